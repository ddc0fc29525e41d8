package models

import (
	"errors"
	"testing"

	"github.com/pixil98/go-testutil"
)

func TestNewTile_TypeDefaults(t *testing.T) {
	tests := map[string]struct {
		tileType      TileType
		wantElevation int
		wantWalkable  bool
	}{
		"grass":    {tileType: TileGrass, wantElevation: 0, wantWalkable: true},
		"water":    {tileType: TileWater, wantElevation: -1, wantWalkable: false},
		"wall":     {tileType: TileWall, wantElevation: 0, wantWalkable: false},
		"elevated": {tileType: TileElevated, wantElevation: 1, wantWalkable: true},
		"door":     {tileType: TileDoor, wantElevation: 0, wantWalkable: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tile, err := NewTile(3, -4, tt.tileType)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "x", tile.X(), 3)
			testutil.AssertEqual(t, "y", tile.Y(), -4)
			testutil.AssertEqual(t, "elevation", tile.Elevation, tt.wantElevation)
			testutil.AssertEqual(t, "walkable", tile.Walkable, tt.wantWalkable)
		})
	}
}

func TestNewTile_OptionsOverrideDefaults(t *testing.T) {
	tile, err := NewTile(0, 0, TileWater, WithElevation(-3), WithWalkable(true), WithStructure("bridge"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "elevation", tile.Elevation, -3)
	testutil.AssertEqual(t, "walkable", tile.Walkable, true)
	testutil.AssertEqual(t, "occupied", tile.Occupied(), true)
	testutil.AssertEqual(t, "passable", tile.Passable(), false)
}

func TestNewTile_UnknownType(t *testing.T) {
	_, err := NewTile(1, 2, TileType("lava"))
	if !errors.Is(err, ErrUnknownTileType) {
		t.Fatalf("got %v want ErrUnknownTileType", err)
	}
}

func TestParseTileType(t *testing.T) {
	got, err := ParseTileType("snow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "type", got, TileSnow)

	_, err = ParseTileType("")
	testutil.AssertErrorContains(t, err, "unknown tile type")
}

func TestChunkCoord_Less(t *testing.T) {
	testutil.AssertEqual(t, "x order", ChunkCoord{X: -1, Y: 5}.Less(ChunkCoord{X: 0, Y: 0}), true)
	testutil.AssertEqual(t, "y order", ChunkCoord{X: 2, Y: 1}.Less(ChunkCoord{X: 2, Y: 3}), true)
	testutil.AssertEqual(t, "equal", ChunkCoord{X: 2, Y: 3}.Less(ChunkCoord{X: 2, Y: 3}), false)
	testutil.AssertEqual(t, "string", ChunkCoord{X: -2, Y: 3}.String(), "-2,3")
}
