package messages

import (
	"encoding/json"

	"isocity/server/models"
)

// MessageType defines the type of message being sent
type MessageType string

const (
	MessageTypeLogin        MessageType = "login"
	MessageTypeLoginSuccess MessageType = "login_success"
	MessageTypeMove         MessageType = "move"
	MessageTypeGetTile      MessageType = "get_tile"
	MessageTypeTile         MessageType = "tile"
	MessageTypeGetRegion    MessageType = "get_region"
	MessageTypeRegion       MessageType = "region"
	MessageTypePlaceTile    MessageType = "place_tile"
	MessageTypeRemoveTile   MessageType = "remove_tile"
	MessageTypeTileChanged  MessageType = "tile_changed"
	MessageTypeUpdate       MessageType = "update"
	MessageTypeSave         MessageType = "save"
	MessageTypeSaved        MessageType = "saved"
	MessageTypeError        MessageType = "error"
)

// Error codes carried by ErrorMessage
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeNotLoggedIn        = "NOT_LOGGED_IN"
	CodeLoginFailed        = "LOGIN_FAILED"
	CodeMoveFailed         = "MOVE_FAILED"
	CodeTileFailed         = "TILE_FAILED"
	CodeSaveFailed         = "SAVE_FAILED"
)

// MaxRegionSide caps get_region requests
const MaxRegionSide = 64

// BaseMessage is the outbound envelope
type BaseMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is the envelope as read off the wire; Payload is decoded per type
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// LoginMessage represents a login request
type LoginMessage struct {
	Username string `json:"username"`
}

// LoginSuccessMessage represents a successful login response
type LoginSuccessMessage struct {
	PlayerID string        `json:"player_id"`
	Player   models.Player `json:"player"`
	WorldID  string        `json:"world_id"`
	Seed     int64         `json:"seed"`
	Chunk    int           `json:"chunk_size"`
}

// MoveMessage represents a player movement request
type MoveMessage struct {
	Direction string `json:"direction"` // north, south, east, west, northeast, northwest, southeast, southwest
}

// TileRequest addresses a single world tile
type TileRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TileMessage answers get_tile; Tile is nil for an empty slot
type TileMessage struct {
	X    int              `json:"x"`
	Y    int              `json:"y"`
	Tile *models.TileView `json:"tile"`
}

// RegionRequest asks for a rectangle of tiles
type RegionRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RegionMessage answers get_region, rows first
type RegionMessage struct {
	X     int                 `json:"x"`
	Y     int                 `json:"y"`
	Tiles [][]models.TileView `json:"tiles"`
}

// PlaceTileMessage places a tile at a world coordinate
type PlaceTileMessage struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Type      string `json:"type"`
	Elevation *int   `json:"elevation,omitempty"`
	Walkable  *bool  `json:"walkable,omitempty"`
	Structure string `json:"structure,omitempty"`
}

// TileChangedMessage is broadcast after a place or remove; Tile is nil on removal
type TileChangedMessage struct {
	X        int              `json:"x"`
	Y        int              `json:"y"`
	Tile     *models.TileView `json:"tile"`
	PlayerID string           `json:"player_id"`
}

// UpdateMessage represents a world update
type UpdateMessage struct {
	Players      []models.Player     `json:"players"`
	ActiveChunks []models.ChunkCoord `json:"active_chunks"`
}

// SavedMessage acknowledges a save
type SavedMessage struct {
	WorldID string `json:"world_id"`
	Chunks  int    `json:"chunks"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
