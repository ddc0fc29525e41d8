package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	goerrors "github.com/pixil98/go-errors"

	"isocity/server/models"
	"isocity/server/persistence"
)

const storageReadTimeout = 5 * time.Second

// WorldOptions configures a world session
type WorldOptions struct {
	WorldID    string
	Seed       int64
	ChunkSize  int
	GridWidth  int
	GridHeight int
}

// BlankMapOptions configures CreateBlankMap
type BlankMapOptions struct {
	// ClearStorage also deletes everything persisted for the world.
	ClearStorage bool
	// Terrain fills the seed chunk; DefaultTileType when empty.
	Terrain models.TileType
	// Chunk is the chunk seeded with Terrain.
	Chunk models.ChunkCoord
}

// WorldStats summarizes the resident chunk set
type WorldStats struct {
	Chunks int `json:"chunks"`
	Active int `json:"active"`
	Dirty  int `json:"dirty"`
}

// WorldService is the world index: it maps world coordinates to chunks, keeps
// the active chunk set and mirrors a bounded region into a flat tile grid for
// direct-index callers.
//
// Exported methods are safe for concurrent use. Chunks call back through the
// unexported chunkHost methods while a world operation holds the lock.
type WorldService struct {
	opts   WorldOptions
	gen    Terrain
	chunks *ChunkManager
	active map[models.ChunkCoord]struct{}
	// grid[x][y], bounded to GridWidth x GridHeight
	grid [][]*models.Tile

	db     persistence.Storage
	render Renderer

	worldMutex sync.Mutex
}

// NewWorldService creates an empty world. A nil store disables saving; a nil
// renderer draws nothing.
func NewWorldService(opts WorldOptions, db persistence.Storage, render Renderer) *WorldService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 16
	}
	if render == nil {
		render = NopRenderer{}
	}
	ws := &WorldService{
		opts:   opts,
		gen:    Terrain{Seed: opts.Seed},
		chunks: NewChunkManager(opts.ChunkSize),
		active: make(map[models.ChunkCoord]struct{}),
		db:     db,
		render: render,
	}
	ws.grid = newGrid(opts.GridWidth, opts.GridHeight)
	return ws
}

// OpenWorldService resumes the world recorded in db, or starts a fresh one.
// A stored record fixes the seed and grid; its active chunks are loaded again.
func OpenWorldService(ctx context.Context, opts WorldOptions, db persistence.Storage, render Renderer) (*WorldService, error) {
	if db == nil {
		return NewWorldService(opts, nil, render), nil
	}

	rec, err := db.GetWorld(ctx, opts.WorldID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		slog.InfoContext(ctx, "starting fresh world", "world", opts.WorldID, "seed", opts.Seed)
		return NewWorldService(opts, db, render), nil
	case err != nil:
		slog.ErrorContext(ctx, "reading world record, starting fresh", "world", opts.WorldID, "error", err)
		return NewWorldService(opts, db, render), nil
	}

	if rec.ChunkSize != 0 && opts.ChunkSize != 0 && rec.ChunkSize != opts.ChunkSize {
		return nil, fmt.Errorf("world %s was saved with chunk size %d, configured %d", opts.WorldID, rec.ChunkSize, opts.ChunkSize)
	}
	if rec.Seed != opts.Seed {
		slog.WarnContext(ctx, "using stored world seed", "world", opts.WorldID, "stored", rec.Seed, "configured", opts.Seed)
	}
	opts.Seed = rec.Seed
	if rec.ChunkSize != 0 {
		opts.ChunkSize = rec.ChunkSize
	}
	opts.GridWidth = rec.GridWidth
	opts.GridHeight = rec.GridHeight

	ws := NewWorldService(opts, db, render)
	ws.worldMutex.Lock()
	for _, c := range rec.ActiveChunks {
		ws.loadChunk(c)
	}
	ws.worldMutex.Unlock()

	slog.InfoContext(ctx, "resumed world", "world", opts.WorldID, "seed", opts.Seed, "active", len(rec.ActiveChunks))
	return ws, nil
}

func newGrid(width, height int) [][]*models.Tile {
	grid := make([][]*models.Tile, width)
	for x := range grid {
		grid[x] = make([]*models.Tile, height)
	}
	return grid
}

func (ws *WorldService) WorldID() string { return ws.opts.WorldID }
func (ws *WorldService) Seed() int64     { return ws.opts.Seed }
func (ws *WorldService) ChunkSize() int  { return ws.opts.ChunkSize }

// GridSize returns the bounds of the flat grid
func (ws *WorldService) GridSize() (int, int) {
	return ws.opts.GridWidth, ws.opts.GridHeight
}

// GridToChunk returns the chunk owning a world coordinate
func (ws *WorldService) GridToChunk(worldX, worldY int) models.ChunkCoord {
	return ws.chunks.GridToChunk(worldX, worldY)
}

// ChunkToGrid returns the world coordinate of a chunk-local position
func (ws *WorldService) ChunkToGrid(c models.ChunkCoord, localX, localY int) (int, int) {
	return ws.chunks.ChunkToGrid(c, localX, localY)
}

// GetTile returns the tile at a world coordinate, creating, generating and
// loading its chunk if needed. Nil for an empty slot.
func (ws *WorldService) GetTile(worldX, worldY int) *models.Tile {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()
	return ws.tileAt(worldX, worldY)
}

// TileView returns a copy of the tile at a world coordinate
func (ws *WorldService) TileView(worldX, worldY int) (models.TileView, bool) {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	t := ws.tileAt(worldX, worldY)
	if t == nil {
		return models.TileView{}, false
	}
	return t.View(), true
}

// Region copies a width x height block of tiles starting at (minX, minY),
// indexed [row][column]. Empty slots have an empty Type.
func (ws *WorldService) Region(minX, minY, width, height int) [][]models.TileView {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	rows := make([][]models.TileView, height)
	for dy := 0; dy < height; dy++ {
		rows[dy] = make([]models.TileView, width)
		for dx := 0; dx < width; dx++ {
			x, y := minX+dx, minY+dy
			if t := ws.tileAt(x, y); t != nil {
				rows[dy][dx] = t.View()
			} else {
				rows[dy][dx] = models.TileView{X: x, Y: y}
			}
		}
	}
	return rows
}

// IsWalkable reports false for a missing or unwalkable tile
func (ws *WorldService) IsWalkable(worldX, worldY int) bool {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	t := ws.tileAt(worldX, worldY)
	return t != nil && t.Walkable
}

// IsPassable is IsWalkable that also treats structures as blocking
func (ws *WorldService) IsPassable(worldX, worldY int) bool {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	t := ws.tileAt(worldX, worldY)
	return t != nil && t.Passable()
}

// GridTile reads the flat grid directly. Nil outside the grid bounds or when
// the owning chunk is not mirrored.
func (ws *WorldService) GridTile(x, y int) *models.Tile {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	if !ws.inGrid(x, y) {
		return nil
	}
	return ws.grid[x][y]
}

// GetOrCreateChunk returns the resident chunk, registering a new unloaded one on a miss
func (ws *WorldService) GetOrCreateChunk(chunkX, chunkY int) *Chunk {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()
	return ws.chunkAt(models.ChunkCoord{X: chunkX, Y: chunkY})
}

// LoadChunk loads a chunk, restoring it from storage or generating it first,
// and marks it active.
func (ws *WorldService) LoadChunk(chunkX, chunkY int) *Chunk {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()
	return ws.loadChunk(models.ChunkCoord{X: chunkX, Y: chunkY})
}

// UnloadChunk unloads an active chunk, saving it first if dirty
func (ws *WorldService) UnloadChunk(ctx context.Context, chunkX, chunkY int) error {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()
	return ws.unloadChunk(ctx, models.ChunkCoord{X: chunkX, Y: chunkY})
}

// EvictChunk unloads a chunk and drops it from memory
func (ws *WorldService) EvictChunk(ctx context.Context, chunkX, chunkY int) error {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	c := models.ChunkCoord{X: chunkX, Y: chunkY}
	ch, ok := ws.chunks.Get(c)
	if !ok {
		return nil
	}
	if err := ws.unloadChunk(ctx, c); err != nil {
		return fmt.Errorf("evicting chunk %s: %w", c, err)
	}
	if ch.IsDirty() && ws.db != nil {
		if err := ch.Save(ctx); err != nil {
			return fmt.Errorf("evicting chunk %s: %w", c, err)
		}
	}
	// a generated but never loaded chunk still has mirror entries
	ch.release()
	ws.chunks.Remove(c)
	return nil
}

// SetTile places a tile at a world coordinate in the owning chunk
func (ws *WorldService) SetTile(worldX, worldY int, tileType models.TileType, opts ...models.TileOption) (*models.Tile, error) {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	ch := ws.loadChunk(ws.chunks.GridToChunk(worldX, worldY))
	lx, ly := ws.chunks.LocalCoords(worldX, worldY)
	return ch.CreateTile(lx, ly, tileType, opts...)
}

// RemoveTile clears the tile at a world coordinate
func (ws *WorldService) RemoveTile(worldX, worldY int) {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	ch := ws.loadChunk(ws.chunks.GridToChunk(worldX, worldY))
	lx, ly := ws.chunks.LocalCoords(worldX, worldY)
	ch.RemoveTile(lx, ly)
}

// ActiveChunks returns the loaded chunk coordinates, sorted
func (ws *WorldService) ActiveChunks() []models.ChunkCoord {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()
	return ws.activeCoords()
}

// Stats counts resident, active and dirty chunks
func (ws *WorldService) Stats() WorldStats {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	st := WorldStats{Chunks: ws.chunks.Len(), Active: len(ws.active)}
	for _, c := range ws.chunks.Coords() {
		if ch, _ := ws.chunks.Get(c); ch.IsDirty() {
			st.Dirty++
		}
	}
	return st
}

// UpdateViewport loads every chunk within radius chunks of the chunk owning
// (worldX, worldY) and unloads active chunks outside it. Returns the chunks
// now in view.
func (ws *WorldService) UpdateViewport(ctx context.Context, worldX, worldY, radius int) ([]models.ChunkCoord, error) {
	return ws.UpdateViewports(ctx, []models.Position{{X: worldX, Y: worldY}}, radius)
}

// UpdateViewports is UpdateViewport for several observers: the chunks in view
// are the union of every center's square.
func (ws *WorldService) UpdateViewports(ctx context.Context, centers []models.Position, radius int) ([]models.ChunkCoord, error) {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	inView := make(map[models.ChunkCoord]struct{})
	for _, p := range centers {
		for _, c := range ws.chunks.ChunksAround(ws.chunks.GridToChunk(p.X, p.Y), radius) {
			if _, ok := inView[c]; ok {
				continue
			}
			ws.loadChunk(c)
			inView[c] = struct{}{}
		}
	}

	el := goerrors.NewErrorList()
	for _, c := range ws.activeCoords() {
		if _, ok := inView[c]; ok {
			continue
		}
		el.Add(ws.unloadChunk(ctx, c))
	}

	want := make([]models.ChunkCoord, 0, len(inView))
	for c := range inView {
		want = append(want, c)
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
	return want, el.Err()
}

// CreateBlankMap wipes the world and seeds a single chunk of flat terrain.
// Nothing in memory is saved first.
func (ws *WorldService) CreateBlankMap(ctx context.Context, opts BlankMapOptions) error {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()

	for _, c := range ws.chunks.Coords() {
		ch, _ := ws.chunks.Get(c)
		ch.release()
	}
	ws.chunks.Reset()
	ws.active = make(map[models.ChunkCoord]struct{})
	ws.grid = newGrid(ws.opts.GridWidth, ws.opts.GridHeight)

	if opts.ClearStorage && ws.db != nil {
		if err := ws.db.DeleteWorld(ctx, ws.opts.WorldID); err != nil {
			return fmt.Errorf("clearing world %s: %w", ws.opts.WorldID, err)
		}
	}

	terrain := opts.Terrain
	if terrain == "" {
		terrain = models.DefaultTileType
	}
	ch := ws.chunkAt(opts.Chunk)
	if err := ch.fill(terrain); err != nil {
		return fmt.Errorf("seeding chunk %s: %w", opts.Chunk, err)
	}
	ch.Load()

	slog.InfoContext(ctx, "created blank map", "world", ws.opts.WorldID, "terrain", terrain, "cleared", opts.ClearStorage)
	return nil
}

// SaveAll persists every dirty chunk and the world record
func (ws *WorldService) SaveAll(ctx context.Context) error {
	ws.worldMutex.Lock()
	defer ws.worldMutex.Unlock()
	return ws.saveAll(ctx)
}

func (ws *WorldService) saveAll(ctx context.Context) error {
	if ws.db == nil {
		return ErrNoStorage
	}

	el := goerrors.NewErrorList()
	saved := 0
	for _, c := range ws.chunks.Coords() {
		ch, _ := ws.chunks.Get(c)
		if !ch.IsDirty() {
			continue
		}
		if err := ch.Save(ctx); err != nil {
			el.Add(err)
			continue
		}
		saved++
	}

	rec := models.WorldRecord{
		WorldID:      ws.opts.WorldID,
		Seed:         ws.opts.Seed,
		ChunkSize:    ws.opts.ChunkSize,
		GridWidth:    ws.opts.GridWidth,
		GridHeight:   ws.opts.GridHeight,
		ActiveChunks: ws.activeCoords(),
		SavedAt:      time.Now().UTC(),
	}
	if err := ws.db.PutWorld(ctx, rec); err != nil {
		el.Add(fmt.Errorf("saving world record: %w", err))
	}

	if err := el.Err(); err != nil {
		slog.ErrorContext(ctx, "saving world", "world", ws.opts.WorldID, "saved", saved, "error", err)
		return err
	}
	slog.DebugContext(ctx, "saved world", "world", ws.opts.WorldID, "chunks", saved)
	return nil
}

// RunAutosave saves the world every interval until ctx is done.
// A non-positive interval disables autosave.
func (ws *WorldService) RunAutosave(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// failures are logged by saveAll; chunks stay dirty for the next tick
			_ = ws.SaveAll(ctx)
		}
	}
}

// Close performs the final save of the session
func (ws *WorldService) Close(ctx context.Context) error {
	if ws.db == nil {
		return nil
	}
	return ws.SaveAll(ctx)
}

func (ws *WorldService) activeCoords() []models.ChunkCoord {
	coords := make([]models.ChunkCoord, 0, len(ws.active))
	for c := range ws.active {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })
	return coords
}

func (ws *WorldService) inGrid(x, y int) bool {
	return x >= 0 && x < ws.opts.GridWidth && y >= 0 && y < ws.opts.GridHeight
}

func (ws *WorldService) chunkAt(c models.ChunkCoord) *Chunk {
	return ws.chunks.GetOrCreate(c, func() *Chunk {
		return newChunk(ws, c.X, c.Y, ws.opts.ChunkSize)
	})
}

// loadChunk makes a chunk resident and loaded
func (ws *WorldService) loadChunk(c models.ChunkCoord) *Chunk {
	ch := ws.chunkAt(c)
	ch.Load()
	return ch
}

// restore looks a never-generated chunk up in storage. A miss, a read
// failure or a corrupt blob leaves the chunk for generation.
func (ws *WorldService) restore(ch *Chunk) bool {
	if ws.db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageReadTimeout)
	defer cancel()

	blob, err := ws.db.GetChunk(ctx, ws.opts.WorldID, ch.x, ch.y)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			slog.ErrorContext(ctx, "reading chunk, regenerating", append(ch.logAttrs(), "error", err)...)
		}
		return false
	}

	rec, err := persistence.DecodeChunk(blob)
	if err != nil {
		slog.ErrorContext(ctx, "decoding chunk, regenerating", append(ch.logAttrs(), "error", err)...)
		return false
	}
	ch.Deserialize(rec)
	return true
}

func (ws *WorldService) unloadChunk(ctx context.Context, c models.ChunkCoord) error {
	delete(ws.active, c)
	ch, ok := ws.chunks.Get(c)
	if !ok {
		return nil
	}
	return ch.Unload(ctx)
}

func (ws *WorldService) tileAt(worldX, worldY int) *models.Tile {
	ch := ws.loadChunk(ws.chunks.GridToChunk(worldX, worldY))
	lx, ly := ws.chunks.LocalCoords(worldX, worldY)
	return ch.GetTile(lx, ly)
}

// chunkHost

func (ws *WorldService) worldID() string              { return ws.opts.WorldID }
func (ws *WorldService) terrain() Terrain             { return ws.gen }
func (ws *WorldService) storage() persistence.Storage { return ws.db }
func (ws *WorldService) renderer() Renderer           { return ws.render }

func (ws *WorldService) registerTile(t *models.Tile) {
	if ws.inGrid(t.X(), t.Y()) {
		ws.grid[t.X()][t.Y()] = t
	}
}

func (ws *WorldService) unregisterTile(t *models.Tile) {
	if ws.inGrid(t.X(), t.Y()) && ws.grid[t.X()][t.Y()] == t {
		ws.grid[t.X()][t.Y()] = nil
	}
}

func (ws *WorldService) chunkForTile(worldX, worldY int) *Chunk {
	return ws.loadChunk(ws.chunks.GridToChunk(worldX, worldY))
}

func (ws *WorldService) restoreChunk(c *Chunk) bool { return ws.restore(c) }

func (ws *WorldService) chunkLoaded(c *Chunk) { ws.active[c.Coord()] = struct{}{} }

func (ws *WorldService) chunkUnloaded(c *Chunk) { delete(ws.active, c.Coord()) }
