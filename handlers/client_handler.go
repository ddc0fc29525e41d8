package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"isocity/server/messages"
	"isocity/server/models"
	"isocity/server/network"
	"isocity/server/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientHandler manages a single client connection
type ClientHandler struct {
	ctx           context.Context
	conn          *network.Connection
	playerService *services.PlayerService
	worldService  *services.WorldService
	clientManager *ClientManager
	playerID      string
}

// Server upgrades HTTP requests to world sessions
type Server struct {
	players *services.PlayerService
	world   *services.WorldService
	clients *ClientManager
}

// NewServer creates a new websocket server
func NewServer(world *services.WorldService, players *services.PlayerService, clients *ClientManager) *Server {
	return &Server{players: players, world: world, clients: clients}
}

// ServeHTTP upgrades the request and runs the session until the peer leaves
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrading connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer wsConn.Close()

	HandleClientConnection(r.Context(), wsConn, s.players, s.world, s.clients)
}

// HandleClientConnection handles a new client connection
func HandleClientConnection(ctx context.Context, wsConn *websocket.Conn, playerService *services.PlayerService, worldService *services.WorldService, clientManager *ClientManager) {
	conn := network.NewConnection(wsConn)
	slog.Debug("client connected", "remote", conn.RemoteAddr())

	handler := &ClientHandler{
		ctx:           context.WithoutCancel(ctx),
		conn:          conn,
		playerService: playerService,
		worldService:  worldService,
		clientManager: clientManager,
	}

	go conn.WritePump()
	conn.ReadPump(handler)

	if handler.playerID != "" {
		clientManager.RemoveClient(handler.playerID)
		playerService.RemovePlayer(handler.ctx, handler.playerID)
		slog.Info("player disconnected", "player", handler.playerID)
		handler.broadcastWorldUpdate()
	}
}

// HandleMessage handles incoming messages from the client
func (h *ClientHandler) HandleMessage(conn *network.Connection, message []byte) {
	var msg messages.InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		h.sendError(messages.CodeBadRequest, "malformed message")
		return
	}

	if msg.Type != messages.MessageTypeLogin && h.playerID == "" {
		h.sendError(messages.CodeNotLoggedIn, "login first")
		return
	}

	switch msg.Type {
	case messages.MessageTypeLogin:
		h.handleLogin(msg.Payload)
	case messages.MessageTypeMove:
		h.handleMove(msg.Payload)
	case messages.MessageTypeGetTile:
		h.handleGetTile(msg.Payload)
	case messages.MessageTypeGetRegion:
		h.handleGetRegion(msg.Payload)
	case messages.MessageTypePlaceTile:
		h.handlePlaceTile(msg.Payload)
	case messages.MessageTypeRemoveTile:
		h.handleRemoveTile(msg.Payload)
	case messages.MessageTypeSave:
		h.handleSave()
	default:
		slog.Debug("unknown message type", "type", msg.Type)
		h.sendError(messages.CodeUnknownMessageType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(payload, v)
}

func (h *ClientHandler) handleLogin(payload json.RawMessage) {
	var loginMsg messages.LoginMessage
	if err := decodePayload(payload, &loginMsg); err != nil || loginMsg.Username == "" {
		h.sendError(messages.CodeBadRequest, "login requires a username")
		return
	}
	if h.playerID != "" {
		h.sendError(messages.CodeLoginFailed, "already logged in")
		return
	}

	player, err := h.playerService.GetOrCreatePlayer(h.ctx, loginMsg.Username)
	if err != nil {
		slog.Error("logging in", "username", loginMsg.Username, "error", err)
		h.sendError(messages.CodeLoginFailed, "failed to log in")
		return
	}

	h.playerID = player.ID
	h.clientManager.AddClient(player.ID, h)

	h.send(messages.MessageTypeLoginSuccess, messages.LoginSuccessMessage{
		PlayerID: player.ID,
		Player:   player,
		WorldID:  h.worldService.WorldID(),
		Seed:     h.worldService.Seed(),
		Chunk:    h.worldService.ChunkSize(),
	})
	h.broadcastWorldUpdate()
}

func (h *ClientHandler) handleMove(payload json.RawMessage) {
	var moveMsg messages.MoveMessage
	if err := decodePayload(payload, &moveMsg); err != nil {
		h.sendError(messages.CodeBadRequest, "malformed move")
		return
	}

	if _, err := h.playerService.Move(h.ctx, h.playerID, moveMsg.Direction); err != nil {
		h.sendError(messages.CodeMoveFailed, err.Error())
		return
	}
	h.broadcastWorldUpdate()
}

func (h *ClientHandler) handleGetTile(payload json.RawMessage) {
	var req messages.TileRequest
	if err := decodePayload(payload, &req); err != nil {
		h.sendError(messages.CodeBadRequest, "malformed tile request")
		return
	}

	resp := messages.TileMessage{X: req.X, Y: req.Y}
	if view, ok := h.worldService.TileView(req.X, req.Y); ok {
		resp.Tile = &view
	}
	h.send(messages.MessageTypeTile, resp)
}

func (h *ClientHandler) handleGetRegion(payload json.RawMessage) {
	var req messages.RegionRequest
	if err := decodePayload(payload, &req); err != nil {
		h.sendError(messages.CodeBadRequest, "malformed region request")
		return
	}
	if req.Width <= 0 || req.Height <= 0 || req.Width > messages.MaxRegionSide || req.Height > messages.MaxRegionSide {
		h.sendError(messages.CodeBadRequest, fmt.Sprintf("region sides must be in [1,%d]", messages.MaxRegionSide))
		return
	}

	h.send(messages.MessageTypeRegion, messages.RegionMessage{
		X:     req.X,
		Y:     req.Y,
		Tiles: h.worldService.Region(req.X, req.Y, req.Width, req.Height),
	})
}

func (h *ClientHandler) handlePlaceTile(payload json.RawMessage) {
	var req messages.PlaceTileMessage
	if err := decodePayload(payload, &req); err != nil {
		h.sendError(messages.CodeBadRequest, "malformed place_tile")
		return
	}

	tileType, err := models.ParseTileType(req.Type)
	if err != nil {
		h.sendError(messages.CodeTileFailed, err.Error())
		return
	}
	var opts []models.TileOption
	if req.Elevation != nil {
		opts = append(opts, models.WithElevation(*req.Elevation))
	}
	if req.Walkable != nil {
		opts = append(opts, models.WithWalkable(*req.Walkable))
	}
	if req.Structure != "" {
		opts = append(opts, models.WithStructure(req.Structure))
	}

	tile, err := h.worldService.SetTile(req.X, req.Y, tileType, opts...)
	if err != nil {
		h.sendError(messages.CodeTileFailed, err.Error())
		return
	}

	view := tile.View()
	h.clientManager.BroadcastToAll(messages.BaseMessage{
		Type:    messages.MessageTypeTileChanged,
		Payload: messages.TileChangedMessage{X: req.X, Y: req.Y, Tile: &view, PlayerID: h.playerID},
	})
}

func (h *ClientHandler) handleRemoveTile(payload json.RawMessage) {
	var req messages.TileRequest
	if err := decodePayload(payload, &req); err != nil {
		h.sendError(messages.CodeBadRequest, "malformed remove_tile")
		return
	}

	h.worldService.RemoveTile(req.X, req.Y)
	h.clientManager.BroadcastToAll(messages.BaseMessage{
		Type:    messages.MessageTypeTileChanged,
		Payload: messages.TileChangedMessage{X: req.X, Y: req.Y, PlayerID: h.playerID},
	})
}

func (h *ClientHandler) handleSave() {
	if err := h.worldService.SaveAll(h.ctx); err != nil {
		h.sendError(messages.CodeSaveFailed, err.Error())
		return
	}
	h.send(messages.MessageTypeSaved, messages.SavedMessage{
		WorldID: h.worldService.WorldID(),
		Chunks:  h.worldService.Stats().Chunks,
	})
}

// sendWorldUpdate sends the connected players and the active chunk set
func (h *ClientHandler) sendWorldUpdate() {
	h.send(messages.MessageTypeUpdate, messages.UpdateMessage{
		Players:      h.playerService.Players(),
		ActiveChunks: h.worldService.ActiveChunks(),
	})
}

func (h *ClientHandler) broadcastWorldUpdate() {
	h.clientManager.ExecuteOnAllClients(func(client *ClientHandler) {
		client.sendWorldUpdate()
	})
}

func (h *ClientHandler) send(t messages.MessageType, payload any) {
	if err := h.conn.SendMessage(messages.BaseMessage{Type: t, Payload: payload}); err != nil {
		slog.Debug("sending message", "type", t, "player", h.playerID, "error", err)
	}
}

func (h *ClientHandler) sendError(code, msg string) {
	h.send(messages.MessageTypeError, messages.ErrorMessage{Code: code, Message: msg})
}
