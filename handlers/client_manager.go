package handlers

import (
	"log/slog"
	"sync"
)

// ClientManager tracks logged-in clients by player id
type ClientManager struct {
	clients map[string]*ClientHandler
	mutex   sync.RWMutex
}

// NewClientManager creates a new client manager
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]*ClientHandler),
	}
}

// AddClient adds a client to the manager
func (cm *ClientManager) AddClient(playerID string, handler *ClientHandler) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[playerID] = handler
}

// RemoveClient removes a client from the manager
func (cm *ClientManager) RemoveClient(playerID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.clients, playerID)
}

// Count returns the number of logged-in clients
func (cm *ClientManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.clients)
}

// BroadcastToAll sends a message to all connected clients
func (cm *ClientManager) BroadcastToAll(msg interface{}) {
	cm.BroadcastToOthers("", msg)
}

// BroadcastToOthers sends a message to all connected clients except the specified one
func (cm *ClientManager) BroadcastToOthers(excludePlayerID string, msg interface{}) {
	for _, client := range cm.snapshot() {
		if client.playerID == excludePlayerID {
			continue
		}
		if err := client.conn.SendMessage(msg); err != nil {
			slog.Debug("broadcasting", "player", client.playerID, "error", err)
		}
	}
}

// ExecuteOnAllClients executes a function for each connected client
func (cm *ClientManager) ExecuteOnAllClients(action func(*ClientHandler)) {
	for _, client := range cm.snapshot() {
		action(client)
	}
}

// snapshot copies the client set so callbacks run without the lock held
func (cm *ClientManager) snapshot() []*ClientHandler {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	out := make([]*ClientHandler, 0, len(cm.clients))
	for _, c := range cm.clients {
		out = append(out, c)
	}
	return out
}
