package models

import (
	"errors"
	"fmt"
)

// ErrUnknownTileType is returned when a terrain tag is not one of the known tile types.
var ErrUnknownTileType = errors.New("unknown tile type")

// TileType is the terrain tag of a grid cell
type TileType string

const (
	TileGrass    TileType = "grass"
	TileDirt     TileType = "dirt"
	TileSand     TileType = "sand"
	TileStone    TileType = "stone"
	TileWater    TileType = "water"
	TileElevated TileType = "elevated"
	TileSnow     TileType = "snow"
	TileDoor     TileType = "door"
	TileWall     TileType = "wall"
)

// DefaultTileType is substituted wherever a terrain tag is missing or unreadable.
const DefaultTileType = TileGrass

var tileTypes = map[TileType]struct{}{
	TileGrass:    {},
	TileDirt:     {},
	TileSand:     {},
	TileStone:    {},
	TileWater:    {},
	TileElevated: {},
	TileSnow:     {},
	TileDoor:     {},
	TileWall:     {},
}

// ParseTileType validates a terrain tag
func ParseTileType(s string) (TileType, error) {
	t := TileType(s)
	if _, ok := tileTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTileType, s)
	}
	return t, nil
}

// Valid reports whether t is a known terrain tag
func (t TileType) Valid() bool {
	_, ok := tileTypes[t]
	return ok
}

// DefaultWalkable is the walkability a tile of this type gets unless overridden
func (t TileType) DefaultWalkable() bool {
	switch t {
	case TileWater, TileWall:
		return false
	}
	return true
}

// DefaultElevation is the elevation a tile of this type gets unless overridden
func (t TileType) DefaultElevation() int {
	switch t {
	case TileWater:
		return -1
	case TileElevated:
		return 1
	}
	return 0
}

// Tile is one grid cell. Its world position is fixed at construction.
type Tile struct {
	x, y int

	Type      TileType
	Elevation int
	Walkable  bool

	// Occupancy references; empty when nothing is present.
	Structure string
	Entity    string
}

// TileOption overrides a type-derived default during construction
type TileOption func(*Tile)

// WithElevation overrides the type-derived elevation
func WithElevation(e int) TileOption {
	return func(t *Tile) { t.Elevation = e }
}

// WithWalkable overrides the type-derived walkability
func WithWalkable(w bool) TileOption {
	return func(t *Tile) { t.Walkable = w }
}

// WithStructure marks the tile as carrying a structure
func WithStructure(id string) TileOption {
	return func(t *Tile) { t.Structure = id }
}

// NewTile creates a tile at world position (x, y)
func NewTile(x, y int, tileType TileType, opts ...TileOption) (*Tile, error) {
	if !tileType.Valid() {
		return nil, fmt.Errorf("tile (%d,%d): %w: %q", x, y, ErrUnknownTileType, tileType)
	}
	t := &Tile{
		x:         x,
		y:         y,
		Type:      tileType,
		Elevation: tileType.DefaultElevation(),
		Walkable:  tileType.DefaultWalkable(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// X returns the world x coordinate
func (t *Tile) X() int { return t.x }

// Y returns the world y coordinate
func (t *Tile) Y() int { return t.y }

// Position returns the world position of the tile
func (t *Tile) Position() Position {
	return Position{X: t.x, Y: t.y}
}

// Occupied reports whether a structure or entity sits on the tile
func (t *Tile) Occupied() bool {
	return t.Structure != "" || t.Entity != ""
}

// Passable reports whether an entity may step onto the tile
func (t *Tile) Passable() bool {
	return t.Walkable && t.Structure == ""
}

// TileView is a detached copy of a tile, safe to hand to other goroutines
type TileView struct {
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Type      TileType `json:"type"`
	Elevation int      `json:"elevation"`
	Walkable  bool     `json:"walkable"`
	Structure string   `json:"structure,omitempty"`
	Entity    string   `json:"entity,omitempty"`
}

// View copies the tile's current state
func (t *Tile) View() TileView {
	return TileView{
		X:         t.x,
		Y:         t.y,
		Type:      t.Type,
		Elevation: t.Elevation,
		Walkable:  t.Walkable,
		Structure: t.Structure,
		Entity:    t.Entity,
	}
}
