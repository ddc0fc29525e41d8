package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"isocity/server/models"
)

var (
	ErrPlayerNotFound   = errors.New("player not found")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrBlocked          = errors.New("tile is not walkable")
	ErrNoSpawn          = errors.New("no walkable spawn tile")
)

// spawnSearchRadius bounds the ring search for a walkable spawn tile
const spawnSearchRadius = 64

var directions = map[string]models.Position{
	"north":     {X: 0, Y: -1},
	"south":     {X: 0, Y: 1},
	"east":      {X: 1, Y: 0},
	"west":      {X: -1, Y: 0},
	"northeast": {X: 1, Y: -1},
	"northwest": {X: -1, Y: -1},
	"southeast": {X: 1, Y: 1},
	"southwest": {X: -1, Y: 1},
}

// ParseDirection returns the unit step for a compass direction
func ParseDirection(dir string) (models.Position, error) {
	step, ok := directions[strings.ToLower(dir)]
	if !ok {
		return models.Position{}, fmt.Errorf("%q: %w", dir, ErrInvalidDirection)
	}
	return step, nil
}

// PlayerOptions configures where players appear and how far they see
type PlayerOptions struct {
	SpawnX     int
	SpawnY     int
	ViewRadius int
}

// PlayerService tracks connected players and moves them across the world.
// Every move drags the world's active chunk set along with the player.
type PlayerService struct {
	players map[string]*models.Player
	world   *WorldService
	opts    PlayerOptions
	mutex   sync.RWMutex
}

// NewPlayerService creates a new player service
func NewPlayerService(world *WorldService, opts PlayerOptions) *PlayerService {
	return &PlayerService{
		players: make(map[string]*models.Player),
		world:   world,
		opts:    opts,
	}
}

// GetOrCreatePlayer returns the connected player with username, or spawns a
// new one on the walkable tile nearest the spawn point.
func (ps *PlayerService) GetOrCreatePlayer(ctx context.Context, username string) (models.Player, error) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	for _, player := range ps.players {
		if player.Username == username {
			return *player, nil
		}
	}

	pos, err := ps.findSpawn()
	if err != nil {
		return models.Player{}, err
	}

	now := time.Now()
	player := &models.Player{
		ID:        uuid.NewString(),
		Username:  username,
		X:         pos.X,
		Y:         pos.Y,
		Icon:      "@",
		CreatedAt: now,
		UpdatedAt: now,
	}
	ps.players[player.ID] = player

	ps.refreshViewports(ctx)
	slog.InfoContext(ctx, "player spawned", "player", player.ID, "username", username, "x", pos.X, "y", pos.Y)
	return *player, nil
}

// findSpawn walks rings outward from the spawn point
func (ps *PlayerService) findSpawn() (models.Position, error) {
	for r := 0; r <= spawnSearchRadius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dy)) != r {
					continue
				}
				x, y := ps.opts.SpawnX+dx, ps.opts.SpawnY+dy
				if ps.world.IsPassable(x, y) && !ps.occupied(x, y) {
					return models.Position{X: x, Y: y}, nil
				}
			}
		}
	}
	return models.Position{}, ErrNoSpawn
}

func (ps *PlayerService) occupied(x, y int) bool {
	for _, p := range ps.players {
		if p.X == x && p.Y == y {
			return true
		}
	}
	return false
}

// GetPlayer returns a copy of the player with id
func (ps *PlayerService) GetPlayer(playerID string) (models.Player, error) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	player, exists := ps.players[playerID]
	if !exists {
		return models.Player{}, ErrPlayerNotFound
	}
	return *player, nil
}

// Players returns copies of every connected player ordered by username
func (ps *PlayerService) Players() []models.Player {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	out := make([]models.Player, 0, len(ps.players))
	for _, p := range ps.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Move steps a player one tile. The destination must be walkable and free of structures.
func (ps *PlayerService) Move(ctx context.Context, playerID string, direction string) (models.Player, error) {
	step, err := ParseDirection(direction)
	if err != nil {
		return models.Player{}, err
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	player, exists := ps.players[playerID]
	if !exists {
		return models.Player{}, ErrPlayerNotFound
	}

	x, y := player.X+step.X, player.Y+step.Y
	if !ps.world.IsPassable(x, y) {
		return *player, fmt.Errorf("(%d,%d): %w", x, y, ErrBlocked)
	}

	player.X, player.Y = x, y
	player.UpdatedAt = time.Now()

	ps.refreshViewports(ctx)
	return *player, nil
}

// RemovePlayer disconnects a player and releases the chunks only they could see
func (ps *PlayerService) RemovePlayer(ctx context.Context, playerID string) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if _, exists := ps.players[playerID]; !exists {
		return
	}
	delete(ps.players, playerID)
	if len(ps.players) > 0 {
		ps.refreshViewports(ctx)
	}
}

// refreshViewports keeps the chunks around every player active. Callers hold the mutex.
func (ps *PlayerService) refreshViewports(ctx context.Context) {
	centers := make([]models.Position, 0, len(ps.players))
	for _, p := range ps.players {
		centers = append(centers, p.GetPosition())
	}
	if _, err := ps.world.UpdateViewports(ctx, centers, ps.opts.ViewRadius); err != nil {
		slog.WarnContext(ctx, "updating viewports", "players", len(centers), "error", err)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
