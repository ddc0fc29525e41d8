package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"isocity/server/models"
	"isocity/server/persistence"
)

var (
	// ErrOutOfBounds is returned for chunk-local coordinates outside [0,N).
	ErrOutOfBounds = errors.New("local coordinate out of chunk bounds")
	// ErrNoStorage is returned when a save is attempted on a world without a store.
	ErrNoStorage = errors.New("no storage configured")
)

// maxDelegationHops bounds cross-chunk tile lookups. A correct lookup needs one hop.
const maxDelegationHops = 4

// chunkHost is the part of the world index a chunk calls back into.
// Implementations must not take the world lock: chunks are driven from
// inside world operations that already hold it.
type chunkHost interface {
	worldID() string
	terrain() Terrain
	storage() persistence.Storage
	renderer() Renderer
	registerTile(t *models.Tile)
	unregisterTile(t *models.Tile)
	// chunkForTile returns the loaded chunk owning a world coordinate
	chunkForTile(worldX, worldY int) *Chunk
	// restoreChunk fills a never-generated chunk from storage. False when
	// nothing usable is stored.
	restoreChunk(c *Chunk) bool
	chunkLoaded(c *Chunk)
	chunkUnloaded(c *Chunk)
}

// Chunk is a fixed-size square block of tiles and the unit of load, unload and persistence.
//
// A Chunk is not safe for concurrent use. Outside of tests it is driven by
// WorldService, which serializes access.
type Chunk struct {
	x, y int
	size int

	tiles   []*models.Tile
	visuals []VisualHandle

	host chunkHost

	isGenerated bool
	isLoaded    bool
	isDirty     bool
	everLoaded  bool
}

// DeserializeResult reports how many persisted tiles made it back into the chunk
type DeserializeResult struct {
	Restored int
	Total    int
}

func newChunk(host chunkHost, chunkX, chunkY, size int) *Chunk {
	return &Chunk{
		x:       chunkX,
		y:       chunkY,
		size:    size,
		tiles:   make([]*models.Tile, size*size),
		visuals: make([]VisualHandle, size*size),
		host:    host,
	}
}

func (c *Chunk) Coord() models.ChunkCoord { return models.ChunkCoord{X: c.x, Y: c.y} }
func (c *Chunk) Size() int                { return c.size }
func (c *Chunk) IsGenerated() bool        { return c.isGenerated }
func (c *Chunk) IsLoaded() bool           { return c.isLoaded }
func (c *Chunk) IsDirty() bool            { return c.isDirty }

// State names the lifecycle state: unborn, generated, loaded or unloaded
func (c *Chunk) State() string {
	switch {
	case !c.isGenerated:
		return "unborn"
	case c.isLoaded:
		return "loaded"
	case c.everLoaded:
		return "unloaded"
	default:
		return "generated"
	}
}

// TileCount returns the number of non-empty slots
func (c *Chunk) TileCount() int {
	n := 0
	for _, t := range c.tiles {
		if t != nil {
			n++
		}
	}
	return n
}

func (c *Chunk) inBounds(localX, localY int) bool {
	return localX >= 0 && localX < c.size && localY >= 0 && localY < c.size
}

func (c *Chunk) index(localX, localY int) int {
	return localX + localY*c.size
}

func (c *Chunk) toWorld(localX, localY int) (int, int) {
	return c.x*c.size + localX, c.y*c.size + localY
}

func (c *Chunk) logAttrs() []any {
	return []any{"world", c.host.worldID(), "chunkX", c.x, "chunkY", c.y}
}

// Generate fills every slot from the world terrain. No-op once generated.
func (c *Chunk) Generate() {
	if c.isGenerated {
		return
	}

	gen := c.host.terrain()
	failed := 0
	for ly := 0; ly < c.size; ly++ {
		for lx := 0; lx < c.size; lx++ {
			wx, wy := c.toWorld(lx, ly)
			tileType, elevation := gen.Sample(wx, wy)
			tile, err := models.NewTile(wx, wy, tileType, models.WithElevation(elevation))
			if err != nil {
				failed++
				slog.Warn("generating tile", append(c.logAttrs(), "x", wx, "y", wy, "error", err)...)
				continue
			}
			c.tiles[c.index(lx, ly)] = tile
			c.host.registerTile(tile)
		}
	}
	if failed > 0 {
		slog.Warn("chunk generated with missing tiles", append(c.logAttrs(), "failed", failed, "total", c.size*c.size)...)
	}

	c.isGenerated = true
	c.isDirty = true
}

// fill populates every slot with one terrain type, standing in for generation
func (c *Chunk) fill(tileType models.TileType) error {
	for ly := 0; ly < c.size; ly++ {
		for lx := 0; lx < c.size; lx++ {
			wx, wy := c.toWorld(lx, ly)
			tile, err := models.NewTile(wx, wy, tileType)
			if err != nil {
				return err
			}
			c.setSlot(lx, ly, tile)
		}
	}
	c.isGenerated = true
	c.isDirty = true
	return nil
}

// Load makes the chunk's tiles visible and queryable. A chunk that was never
// generated is restored from storage, or generated when nothing is stored.
func (c *Chunk) Load() {
	if c.isLoaded {
		return
	}
	if !c.isGenerated && !c.host.restoreChunk(c) {
		c.Generate()
	}

	for i, tile := range c.tiles {
		if tile == nil {
			continue
		}
		c.attachVisual(i, tile)
		c.host.registerTile(tile)
	}

	c.isLoaded = true
	c.everLoaded = true
	c.host.chunkLoaded(c)
}

// Unload saves the chunk if dirty, then releases its visuals and flat-grid
// mirror entries. Tile data stays in memory. A failed save is returned but
// the chunk is still unloaded and stays dirty. Without storage nothing is
// saved and the chunk stays dirty.
func (c *Chunk) Unload(ctx context.Context) error {
	if !c.isLoaded {
		return nil
	}

	var saveErr error
	if c.isDirty && c.host.storage() != nil {
		saveErr = c.Save(ctx)
		if saveErr != nil {
			slog.ErrorContext(ctx, "saving chunk on unload", append(c.logAttrs(), "error", saveErr)...)
		}
	}

	c.release()
	c.isLoaded = false
	c.host.chunkUnloaded(c)
	return saveErr
}

// release detaches every visual and drops the flat-grid mirror entries
func (c *Chunk) release() {
	for i, tile := range c.tiles {
		c.detachVisual(i)
		if tile != nil {
			c.host.unregisterTile(tile)
		}
	}
}

// Save persists the chunk and clears the dirty flag on success
func (c *Chunk) Save(ctx context.Context) error {
	store := c.host.storage()
	if store == nil {
		return ErrNoStorage
	}

	blob, err := persistence.EncodeChunk(c.Serialize())
	if err != nil {
		return fmt.Errorf("encoding chunk %d,%d: %w", c.x, c.y, err)
	}
	if err := store.PutChunk(ctx, c.host.worldID(), c.x, c.y, blob); err != nil {
		return fmt.Errorf("persisting chunk %d,%d: %w", c.x, c.y, err)
	}

	c.isDirty = false
	return nil
}

// CreateTile creates or replaces the tile at local coordinates.
//
// Coordinates outside [0,N) are accepted: the tile is built at the matching
// world position and handed to the chunk that owns it, so it never lands in
// this chunk's slots.
func (c *Chunk) CreateTile(localX, localY int, tileType models.TileType, opts ...models.TileOption) (*models.Tile, error) {
	wx, wy := c.toWorld(localX, localY)

	if !c.inBounds(localX, localY) {
		slog.Debug("creating tile outside chunk bounds", append(c.logAttrs(), "localX", localX, "localY", localY)...)
		owner := c.host.chunkForTile(wx, wy)
		if owner == nil || owner == c {
			err := fmt.Errorf("tile (%d,%d): %w", wx, wy, ErrOutOfBounds)
			slog.Warn("creating tile", append(c.logAttrs(), "error", err)...)
			return nil, err
		}
		return owner.CreateTile(wx-owner.x*owner.size, wy-owner.y*owner.size, tileType, opts...)
	}

	tile, err := models.NewTile(wx, wy, tileType, opts...)
	if err != nil {
		slog.Warn("creating tile", append(c.logAttrs(), "error", err)...)
		return nil, err
	}

	c.setSlot(localX, localY, tile)
	c.isDirty = true
	return tile, nil
}

// setSlot replaces a slot, moving visuals and mirror entries with it
func (c *Chunk) setSlot(localX, localY int, tile *models.Tile) {
	i := c.index(localX, localY)
	if old := c.tiles[i]; old != nil {
		c.detachVisual(i)
		c.host.unregisterTile(old)
	}

	c.tiles[i] = tile
	if tile == nil {
		return
	}
	if c.isLoaded {
		c.attachVisual(i, tile)
	}
	c.host.registerTile(tile)
}

// RemoveTile clears a slot. Out-of-range coordinates are logged and ignored.
func (c *Chunk) RemoveTile(localX, localY int) {
	if !c.inBounds(localX, localY) {
		slog.Warn("removing tile", append(c.logAttrs(), "localX", localX, "localY", localY, "error", ErrOutOfBounds)...)
		return
	}
	c.setSlot(localX, localY, nil)
	c.isDirty = true
}

// GetTile returns the tile at local coordinates, nil for an empty slot.
// Coordinates outside [0,N) are answered by the neighbouring chunk that owns
// them, which is created and generated on demand.
func (c *Chunk) GetTile(localX, localY int) *models.Tile {
	cur := c
	for hop := 0; hop <= maxDelegationHops; hop++ {
		if cur.inBounds(localX, localY) {
			return cur.tiles[cur.index(localX, localY)]
		}
		wx, wy := cur.toWorld(localX, localY)
		next := cur.host.chunkForTile(wx, wy)
		if next == nil {
			return nil
		}
		localX, localY = wx-next.x*next.size, wy-next.y*next.size
		cur = next
	}

	slog.Error("tile lookup did not converge", append(c.logAttrs(), "localX", localX, "localY", localY)...)
	return nil
}

// Serialize snapshots the non-empty slots in chunk-local coordinates
func (c *Chunk) Serialize() models.ChunkRecord {
	rec := models.ChunkRecord{
		ChunkX:      c.x,
		ChunkY:      c.y,
		IsGenerated: c.isGenerated,
		Tiles:       make([]models.TileRecord, 0, len(c.tiles)),
	}
	for i, tile := range c.tiles {
		if tile == nil {
			continue
		}
		elevation, walkable := tile.Elevation, tile.Walkable
		rec.Tiles = append(rec.Tiles, models.TileRecord{
			X:         i % c.size,
			Y:         i / c.size,
			Type:      string(tile.Type),
			Elevation: &elevation,
			Walkable:  &walkable,
			Structure: tile.Structure,
		})
	}
	return rec
}

// Deserialize replaces the chunk contents with a persisted snapshot, bypassing
// generation. Each tile is restored independently: a tile with unusable
// coordinates is skipped, a missing or unknown type becomes the default
// terrain. The chunk is generated and clean afterwards.
func (c *Chunk) Deserialize(rec models.ChunkRecord) DeserializeResult {
	if rec.ChunkX != c.x || rec.ChunkY != c.y {
		slog.Warn("chunk record coordinates differ from chunk",
			append(c.logAttrs(), "recordX", rec.ChunkX, "recordY", rec.ChunkY)...)
	}

	for ly := 0; ly < c.size; ly++ {
		for lx := 0; lx < c.size; lx++ {
			c.setSlot(lx, ly, nil)
		}
	}

	res := DeserializeResult{Total: len(rec.Tiles)}
	for _, tr := range rec.Tiles {
		tile, err := c.restoreTile(tr)
		if err != nil {
			slog.Warn("restoring tile", append(c.logAttrs(), "localX", tr.X, "localY", tr.Y, "error", err)...)
			continue
		}
		c.setSlot(tr.X, tr.Y, tile)
		res.Restored++
	}

	if res.Restored < res.Total {
		slog.Warn("chunk restored with skipped tiles", append(c.logAttrs(), "restored", res.Restored, "total", res.Total)...)
	}

	c.isGenerated = true
	c.isDirty = false
	return res
}

func (c *Chunk) restoreTile(tr models.TileRecord) (*models.Tile, error) {
	if !c.inBounds(tr.X, tr.Y) {
		return nil, ErrOutOfBounds
	}

	tileType, err := models.ParseTileType(tr.Type)
	if err != nil {
		slog.Debug("defaulting tile type", append(c.logAttrs(), "localX", tr.X, "localY", tr.Y, "type", tr.Type)...)
		tileType = models.DefaultTileType
	}

	opts := []models.TileOption{}
	if tr.Elevation != nil {
		opts = append(opts, models.WithElevation(*tr.Elevation))
	}
	if tr.Walkable != nil {
		opts = append(opts, models.WithWalkable(*tr.Walkable))
	}
	if tr.Structure != "" {
		opts = append(opts, models.WithStructure(tr.Structure))
	}

	wx, wy := c.toWorld(tr.X, tr.Y)
	return models.NewTile(wx, wy, tileType, opts...)
}

func (c *Chunk) attachVisual(i int, tile *models.Tile) {
	if c.visuals[i] != nil {
		return
	}
	r := c.host.renderer()
	h, err := r.CreateTileVisual(tile.Type, VisualOptions{X: tile.X(), Y: tile.Y(), Elevation: tile.Elevation})
	if err != nil {
		slog.Warn("creating tile visual", append(c.logAttrs(), "x", tile.X(), "y", tile.Y(), "error", err)...)
		return
	}
	if h == nil {
		return
	}
	r.AttachVisual(h)
	c.visuals[i] = h
}

func (c *Chunk) detachVisual(i int) {
	if h := c.visuals[i]; h != nil {
		c.host.renderer().DetachVisual(h)
		c.visuals[i] = nil
	}
}
