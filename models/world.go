package models

import (
	"fmt"
	"time"
)

// ChunkCoord addresses a chunk in chunk space
type ChunkCoord struct {
	X int `json:"chunkX"`
	Y int `json:"chunkY"`
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// Less orders coordinates by x, then y
func (c ChunkCoord) Less(o ChunkCoord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// ChunkRecord is the persisted form of one chunk.
// Only non-empty slots are listed in Tiles.
type ChunkRecord struct {
	ChunkX      int          `json:"chunkX"`
	ChunkY      int          `json:"chunkY"`
	IsGenerated bool         `json:"isGenerated"`
	Tiles       []TileRecord `json:"tiles"`
}

// TileRecord is one persisted tile in chunk-local coordinates.
// Elevation and Walkable are nil when the stored value was missing or unreadable.
type TileRecord struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Type      string `json:"type"`
	Elevation *int   `json:"elevation"`
	Walkable  *bool  `json:"walkable"`
	Structure string `json:"structure,omitempty"`
}

// WorldRecord is the persisted per-world session state
type WorldRecord struct {
	WorldID      string       `json:"worldId"`
	Seed         int64        `json:"seed"`
	ChunkSize    int          `json:"chunkSize"`
	GridWidth    int          `json:"gridWidth"`
	GridHeight   int          `json:"gridHeight"`
	ActiveChunks []ChunkCoord `json:"activeChunks"`
	SavedAt      time.Time    `json:"savedAt"`
}
