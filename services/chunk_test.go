package services

import (
	"context"
	"errors"
	"testing"

	"github.com/pixil98/go-testutil"

	"isocity/server/models"
	"isocity/server/persistence"
)

func TestChunk_GenerateIsDeterministic(t *testing.T) {
	a := loadedChunk(t, newTestWorld(t, nil), 0, 0)
	b := loadedChunk(t, newTestWorld(t, nil), 0, 0)

	for ly := 0; ly < 16; ly++ {
		for lx := 0; lx < 16; lx++ {
			ta, tb := a.GetTile(lx, ly), b.GetTile(lx, ly)
			if ta.Type != tb.Type || ta.Elevation != tb.Elevation || ta.Walkable != tb.Walkable {
				t.Fatalf("local (%d,%d) differs: %+v vs %+v", lx, ly, ta.View(), tb.View())
			}
		}
	}

	origin := a.GetTile(0, 0)
	testutil.AssertEqual(t, "origin type", origin.Type, models.TileStone)
	testutil.AssertEqual(t, "origin elevation", origin.Elevation, 3)
}

func TestChunk_GenerateIsIdempotent(t *testing.T) {
	ws := newTestWorld(t, nil)
	ch := ws.GetOrCreateChunk(1, 1)

	ch.Generate()
	first := ch.GetTile(7, 7)
	ch.Generate()

	testutil.AssertEqual(t, "same tile", ch.GetTile(7, 7), first)
	testutil.AssertEqual(t, "tile count", ch.TileCount(), 256)
}

func TestChunk_Lifecycle(t *testing.T) {
	db := persistence.NewMemoryStore()
	ws := newTestWorld(t, db)
	ch := ws.GetOrCreateChunk(0, 0)
	testutil.AssertEqual(t, "new", ch.State(), "unborn")

	ch.Generate()
	testutil.AssertEqual(t, "generated", ch.State(), "generated")
	testutil.AssertEqual(t, "dirty after generate", ch.IsDirty(), true)

	ch.Load()
	testutil.AssertEqual(t, "loaded", ch.State(), "loaded")
	ch.Load()
	testutil.AssertEqual(t, "load is idempotent", ch.State(), "loaded")
	testutil.AssertEqual(t, "active", len(ws.ActiveChunks()), 1)

	if _, err := ch.CreateTile(6, 9, models.TileDoor, models.WithStructure("gate")); err != nil {
		t.Fatalf("CreateTile: %v", err)
	}
	ch.RemoveTile(1, 2)

	if err := ch.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	testutil.AssertEqual(t, "unloaded", ch.State(), "unloaded")
	testutil.AssertEqual(t, "saved on unload", ch.IsDirty(), false)
	testutil.AssertEqual(t, "tiles kept", ch.TileCount(), 255)
	testutil.AssertEqual(t, "inactive", len(ws.ActiveChunks()), 0)

	stored := storedChunk(t, db, "test", 0, 0)
	mem := ch.Serialize()
	testutil.AssertEqual(t, "stored chunkX", stored.ChunkX, mem.ChunkX)
	testutil.AssertEqual(t, "stored chunkY", stored.ChunkY, mem.ChunkY)
	testutil.AssertEqual(t, "stored tile count", len(stored.Tiles), len(mem.Tiles))
	for i := range mem.Tiles {
		got, want := stored.Tiles[i], mem.Tiles[i]
		testutil.AssertEqual(t, "x", got.X, want.X)
		testutil.AssertEqual(t, "y", got.Y, want.Y)
		testutil.AssertEqual(t, "type", got.Type, want.Type)
		testutil.AssertEqual(t, "elevation", *got.Elevation, *want.Elevation)
		testutil.AssertEqual(t, "walkable", *got.Walkable, *want.Walkable)
		testutil.AssertEqual(t, "structure", got.Structure, want.Structure)
	}

	ch.Load()
	testutil.AssertEqual(t, "reloaded", ch.State(), "loaded")
	testutil.AssertEqual(t, "active again", len(ws.ActiveChunks()), 1)
}

func TestChunk_LoadRestoresStoredChunk(t *testing.T) {
	db := persistence.NewMemoryStore()
	ctx := context.Background()

	first := newTestWorld(t, db)
	if _, err := first.SetTile(0, 0, models.TileWall); err != nil {
		t.Fatalf("SetTile: %v", err)
	}
	if err := first.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	ws := newTestWorld(t, db)
	ch := ws.GetOrCreateChunk(0, 0)
	ch.Load()

	testutil.AssertEqual(t, "restored tile", ch.GetTile(0, 0).Type, models.TileWall)
	testutil.AssertEqual(t, "clean", ch.IsDirty(), false)
	active := ws.ActiveChunks()
	testutil.AssertEqual(t, "active", len(active), 1)
	testutil.AssertEqual(t, "active coord", active[0], models.ChunkCoord{X: 0, Y: 0})

	if err := ws.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	testutil.AssertEqual(t, "stored after save", storedChunk(t, db, "test", 0, 0).Tiles[0].Type, string(models.TileWall))

	// a viewport elsewhere unloads the directly loaded chunk
	if _, err := ws.UpdateViewport(ctx, 100, 100, 0); err != nil {
		t.Fatalf("UpdateViewport: %v", err)
	}
	testutil.AssertEqual(t, "unloaded by viewport", ch.IsLoaded(), false)
}

func TestChunk_LoadGeneratesFirst(t *testing.T) {
	ch := newTestWorld(t, nil).GetOrCreateChunk(3, -2)
	ch.Load()

	testutil.AssertEqual(t, "generated", ch.IsGenerated(), true)
	testutil.AssertEqual(t, "loaded", ch.IsLoaded(), true)
}

func TestChunk_SaveClearsDirty(t *testing.T) {
	db := persistence.NewMemoryStore()
	ws := newTestWorld(t, db)
	ch := loadedChunk(t, ws, 0, 0)

	if err := ch.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.AssertEqual(t, "clean", ch.IsDirty(), false)

	rec := storedChunk(t, db, "test", 0, 0)
	testutil.AssertEqual(t, "stored tiles", len(rec.Tiles), 256)

	if _, err := ch.CreateTile(2, 2, models.TileWall); err != nil {
		t.Fatalf("CreateTile: %v", err)
	}
	testutil.AssertEqual(t, "dirty after edit", ch.IsDirty(), true)

	ch.RemoveTile(2, 2)
	if err := ch.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.AssertEqual(t, "stored tiles after remove", len(storedChunk(t, db, "test", 0, 0).Tiles), 255)
}

func TestChunk_SaveWithoutStorage(t *testing.T) {
	ch := loadedChunk(t, newTestWorld(t, nil), 0, 0)

	err := ch.Save(context.Background())
	if !errors.Is(err, ErrNoStorage) {
		t.Fatalf("got %v want ErrNoStorage", err)
	}
	testutil.AssertEqual(t, "still dirty", ch.IsDirty(), true)
}

func TestChunk_FailedSaveKeepsDirty(t *testing.T) {
	db := newFlakyStore()
	db.setFailPut(true)
	ws := newTestWorld(t, db)
	ch := loadedChunk(t, ws, 0, 0)

	err := ch.Unload(context.Background())
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Unload: got %v want errStoreDown", err)
	}
	testutil.AssertEqual(t, "unloaded anyway", ch.IsLoaded(), false)
	testutil.AssertEqual(t, "still dirty", ch.IsDirty(), true)
	testutil.AssertEqual(t, "mirror released", ws.GridTile(0, 0) == nil, true)

	db.setFailPut(false)
	if err := ch.Save(context.Background()); err != nil {
		t.Fatalf("retry Save: %v", err)
	}
	testutil.AssertEqual(t, "clean after retry", ch.IsDirty(), false)
}

func TestChunk_SerializeRoundTrip(t *testing.T) {
	src := loadedChunk(t, newTestWorld(t, nil), 1, -1)
	if _, err := src.CreateTile(4, 4, models.TileDoor, models.WithStructure("house"), models.WithElevation(2)); err != nil {
		t.Fatalf("CreateTile: %v", err)
	}
	src.RemoveTile(5, 5)

	rec := src.Serialize()
	testutil.AssertEqual(t, "chunkX", rec.ChunkX, 1)
	testutil.AssertEqual(t, "chunkY", rec.ChunkY, -1)
	testutil.AssertEqual(t, "tiles", len(rec.Tiles), 255)

	dst := newTestWorld(t, nil).GetOrCreateChunk(1, -1)
	res := dst.Deserialize(rec)
	testutil.AssertEqual(t, "restored", res.Restored, 255)
	testutil.AssertEqual(t, "total", res.Total, 255)

	for ly := 0; ly < 16; ly++ {
		for lx := 0; lx < 16; lx++ {
			a, b := src.GetTile(lx, ly), dst.GetTile(lx, ly)
			if (a == nil) != (b == nil) {
				t.Fatalf("local (%d,%d): presence differs", lx, ly)
			}
			if a == nil {
				continue
			}
			testutil.AssertEqual(t, "view", b.View(), a.View())
		}
	}

	door := dst.GetTile(4, 4)
	testutil.AssertEqual(t, "door x", door.X(), 20)
	testutil.AssertEqual(t, "door y", door.Y(), -12)
	testutil.AssertEqual(t, "structure", door.Structure, "house")
}

func TestChunk_DeserializeBypassesGeneration(t *testing.T) {
	elevation, walkable := -1, false
	rec := models.ChunkRecord{
		ChunkX:      2,
		ChunkY:      3,
		IsGenerated: true,
		Tiles: []models.TileRecord{
			{X: 0, Y: 0, Type: "water", Elevation: &elevation, Walkable: &walkable},
		},
	}

	ch := newTestWorld(t, nil).GetOrCreateChunk(2, 3)
	ch.Deserialize(rec)

	tile := ch.GetTile(0, 0)
	if tile == nil {
		t.Fatalf("tile (0,0) missing")
	}
	testutil.AssertEqual(t, "type", tile.Type, models.TileWater)
	testutil.AssertEqual(t, "elevation", tile.Elevation, -1)
	testutil.AssertEqual(t, "walkable", tile.Walkable, false)
	testutil.AssertEqual(t, "dirty", ch.IsDirty(), false)
	testutil.AssertEqual(t, "generated", ch.IsGenerated(), true)
	testutil.AssertEqual(t, "other slots empty", ch.GetTile(1, 0) == nil, true)
}

func TestChunk_DeserializeIsTolerant(t *testing.T) {
	rec := models.ChunkRecord{
		Tiles: []models.TileRecord{
			{X: 0, Y: 0, Type: "lava"},
			{X: -1, Y: 0, Type: "grass"},
			{X: 3, Y: 99, Type: "grass"},
			{X: 1, Y: 1},
			{X: 2, Y: 2, Type: "wall"},
		},
	}

	ch := newTestWorld(t, nil).GetOrCreateChunk(0, 0)
	res := ch.Deserialize(rec)
	testutil.AssertEqual(t, "restored", res.Restored, 3)
	testutil.AssertEqual(t, "total", res.Total, 5)

	testutil.AssertEqual(t, "unknown type defaults", ch.GetTile(0, 0).Type, models.DefaultTileType)
	testutil.AssertEqual(t, "missing type defaults", ch.GetTile(1, 1).Type, models.DefaultTileType)
	testutil.AssertEqual(t, "wall walkable default", ch.GetTile(2, 2).Walkable, false)
}

func TestChunk_GetTileDelegatesAcrossChunks(t *testing.T) {
	ws := newTestWorld(t, nil)
	origin := loadedChunk(t, ws, 0, 0)

	tests := map[string]struct {
		localX, localY int
		wantChunk      models.ChunkCoord
		wantX, wantY   int
	}{
		"east":      {localX: 20, localY: 5, wantChunk: models.ChunkCoord{X: 1, Y: 0}, wantX: 20, wantY: 5},
		"west":      {localX: -1, localY: 0, wantChunk: models.ChunkCoord{X: -1, Y: 0}, wantX: -1, wantY: 0},
		"far south": {localX: 3, localY: 40, wantChunk: models.ChunkCoord{X: 0, Y: 2}, wantX: 3, wantY: 40},
		"diagonal":  {localX: -17, localY: -33, wantChunk: models.ChunkCoord{X: -2, Y: -3}, wantX: -17, wantY: -33},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tile := origin.GetTile(tt.localX, tt.localY)
			if tile == nil {
				t.Fatalf("no tile")
			}
			testutil.AssertEqual(t, "x", tile.X(), tt.wantX)
			testutil.AssertEqual(t, "y", tile.Y(), tt.wantY)

			owner := ws.GetOrCreateChunk(tt.wantChunk.X, tt.wantChunk.Y)
			testutil.AssertEqual(t, "owner loaded", owner.IsLoaded(), true)
			lx, ly := ws.chunks.LocalCoords(tt.wantX, tt.wantY)
			testutil.AssertEqual(t, "same tile", owner.GetTile(lx, ly), tile)
		})
	}
}

func TestChunk_CreateTileOutsideBoundsGoesToOwner(t *testing.T) {
	db := persistence.NewMemoryStore()
	ws := newTestWorld(t, db)
	origin := loadedChunk(t, ws, 0, 0)
	if err := origin.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tile, err := origin.CreateTile(16, 2, models.TileWall)
	if err != nil {
		t.Fatalf("CreateTile: %v", err)
	}
	testutil.AssertEqual(t, "world x", tile.X(), 16)

	east := ws.GetOrCreateChunk(1, 0)
	testutil.AssertEqual(t, "owner holds tile", east.GetTile(0, 2), tile)
	testutil.AssertEqual(t, "owner dirty", east.IsDirty(), true)
	testutil.AssertEqual(t, "origin untouched", origin.IsDirty(), false)
	testutil.AssertEqual(t, "mirror", ws.GridTile(16, 2), tile)
}

func TestChunk_RemoveTile(t *testing.T) {
	ws := newTestWorld(t, nil)
	ch := loadedChunk(t, ws, 0, 0)

	ch.RemoveTile(3, 4)
	testutil.AssertEqual(t, "slot empty", ch.GetTile(3, 4) == nil, true)
	testutil.AssertEqual(t, "mirror cleared", ws.GridTile(3, 4) == nil, true)
	testutil.AssertEqual(t, "walkable", ws.IsWalkable(3, 4), false)

	// out of range is ignored
	ch.RemoveTile(16, 0)
	testutil.AssertEqual(t, "neighbour untouched", ws.GetTile(16, 0) != nil, true)
}

func TestChunk_CreateTileRejectsUnknownType(t *testing.T) {
	ch := loadedChunk(t, newTestWorld(t, nil), 0, 0)
	before := ch.GetTile(1, 1)

	_, err := ch.CreateTile(1, 1, models.TileType("lava"))
	if !errors.Is(err, models.ErrUnknownTileType) {
		t.Fatalf("got %v want ErrUnknownTileType", err)
	}
	testutil.AssertEqual(t, "slot kept", ch.GetTile(1, 1), before)
}

func TestChunk_VisualsFollowLoadState(t *testing.T) {
	render := NewAtlasRenderer(DefaultAtlas())
	ws := NewWorldService(testOptions(), persistence.NewMemoryStore(), render)

	ch := ws.LoadChunk(0, 0)
	testutil.AssertEqual(t, "attached after load", render.Attached(), 256)

	ch.RemoveTile(0, 0)
	testutil.AssertEqual(t, "detached on remove", render.Attached(), 255)

	if _, err := ch.CreateTile(0, 0, models.TileDoor); err != nil {
		t.Fatalf("CreateTile: %v", err)
	}
	testutil.AssertEqual(t, "attached on create", render.Attached(), 256)

	if err := ch.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	testutil.AssertEqual(t, "detached after unload", render.Attached(), 0)
}

func TestChunk_MissingTextureStillLoads(t *testing.T) {
	atlas := DefaultAtlas()
	delete(atlas, models.TileStone)
	render := NewAtlasRenderer(atlas)
	ws := NewWorldService(testOptions(), nil, render)

	ch := ws.LoadChunk(0, 0)
	stone := 0
	for ly := 0; ly < 16; ly++ {
		for lx := 0; lx < 16; lx++ {
			if ch.GetTile(lx, ly).Type == models.TileStone {
				stone++
			}
		}
	}
	if stone == 0 {
		t.Fatalf("expected stone tiles in chunk 0,0")
	}
	testutil.AssertEqual(t, "loaded", ch.IsLoaded(), true)
	testutil.AssertEqual(t, "attached", render.Attached(), 256-stone)
	testutil.AssertEqual(t, "stone tile queryable", ws.GetTile(0, 0).Type, models.TileStone)
}
