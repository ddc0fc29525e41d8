package services

import (
	"errors"
	"fmt"
	"sync"

	"isocity/server/models"
)

// ErrMissingTexture is returned by a Renderer that has nothing to draw for a tile type.
var ErrMissingTexture = errors.New("missing texture")

// VisualHandle is an opaque reference to a drawn tile. Chunks only store and hand it back.
type VisualHandle any

// VisualOptions describes how a tile should be drawn
type VisualOptions struct {
	X, Y      int
	Elevation int
}

// Renderer is the drawing surface chunks create tile visuals on
type Renderer interface {
	CreateTileVisual(tileType models.TileType, opts VisualOptions) (VisualHandle, error)
	AttachVisual(h VisualHandle)
	DetachVisual(h VisualHandle)
}

// NopRenderer draws nothing
type NopRenderer struct{}

func (NopRenderer) CreateTileVisual(models.TileType, VisualOptions) (VisualHandle, error) {
	return nil, nil
}

func (NopRenderer) AttachVisual(VisualHandle) {}

func (NopRenderer) DetachVisual(VisualHandle) {}

// AtlasRenderer hands out sprite handles for the tile types present in its atlas
// and keeps count of what is currently attached.
type AtlasRenderer struct {
	mutex    sync.Mutex
	textures map[models.TileType]string
	nextID   uint64
	attached map[uint64]struct{}
}

// AtlasSprite is the handle type produced by AtlasRenderer
type AtlasSprite struct {
	ID      uint64
	Texture string
	Options VisualOptions
}

// NewAtlasRenderer creates a renderer knowing the given textures
func NewAtlasRenderer(textures map[models.TileType]string) *AtlasRenderer {
	return &AtlasRenderer{
		textures: textures,
		attached: make(map[uint64]struct{}),
	}
}

// DefaultAtlas maps every known tile type to its sprite name
func DefaultAtlas() map[models.TileType]string {
	return map[models.TileType]string{
		models.TileGrass:    "tiles/grass",
		models.TileDirt:     "tiles/dirt",
		models.TileSand:     "tiles/sand",
		models.TileStone:    "tiles/stone",
		models.TileWater:    "tiles/water",
		models.TileElevated: "tiles/elevated",
		models.TileSnow:     "tiles/snow",
		models.TileDoor:     "tiles/door",
		models.TileWall:     "tiles/wall",
	}
}

func (r *AtlasRenderer) CreateTileVisual(tileType models.TileType, opts VisualOptions) (VisualHandle, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tex, ok := r.textures[tileType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTexture, tileType)
	}
	r.nextID++
	return &AtlasSprite{ID: r.nextID, Texture: tex, Options: opts}, nil
}

func (r *AtlasRenderer) AttachVisual(h VisualHandle) {
	sprite, ok := h.(*AtlasSprite)
	if !ok {
		return
	}
	r.mutex.Lock()
	r.attached[sprite.ID] = struct{}{}
	r.mutex.Unlock()
}

func (r *AtlasRenderer) DetachVisual(h VisualHandle) {
	sprite, ok := h.(*AtlasSprite)
	if !ok {
		return
	}
	r.mutex.Lock()
	delete(r.attached, sprite.ID)
	r.mutex.Unlock()
}

// Attached returns the number of visuals currently attached
func (r *AtlasRenderer) Attached() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.attached)
}
