package services

import (
	"context"
	"errors"
	"testing"

	"github.com/pixil98/go-testutil"

	"isocity/server/models"
	"isocity/server/persistence"
)

func newTestPlayers(t *testing.T) (*PlayerService, *WorldService) {
	t.Helper()
	ws := newTestWorld(t, persistence.NewMemoryStore())
	// a small walkable plaza around the spawn point
	for y := -2; y <= 2; y++ {
		for x := -2; x <= 2; x++ {
			if _, err := ws.SetTile(x, y, models.TileGrass); err != nil {
				t.Fatalf("SetTile: %v", err)
			}
		}
	}
	return NewPlayerService(ws, PlayerOptions{ViewRadius: 1}), ws
}

func TestParseDirection(t *testing.T) {
	tests := map[string]struct {
		dir     string
		want    models.Position
		wantErr bool
	}{
		"north":     {dir: "north", want: models.Position{X: 0, Y: -1}},
		"southwest": {dir: "southwest", want: models.Position{X: -1, Y: 1}},
		"mixed":     {dir: "East", want: models.Position{X: 1, Y: 0}},
		"unknown":   {dir: "up", wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseDirection(tt.dir)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDirection) {
					t.Fatalf("got %v want ErrInvalidDirection", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "step", got, tt.want)
		})
	}
}

func TestPlayerService_Spawn(t *testing.T) {
	ps, ws := newTestPlayers(t)
	ctx := context.Background()

	alice, err := ps.GetOrCreatePlayer(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}
	testutil.AssertEqual(t, "alice at spawn", alice.GetPosition(), models.Position{X: 0, Y: 0})
	testutil.AssertEqual(t, "id set", alice.ID != "", true)

	again, err := ps.GetOrCreatePlayer(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}
	testutil.AssertEqual(t, "same player", again.ID, alice.ID)

	bob, err := ps.GetOrCreatePlayer(ctx, "bob")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}
	if bob.GetPosition() == alice.GetPosition() {
		t.Fatalf("bob spawned on alice")
	}
	testutil.AssertEqual(t, "bob walkable", ws.IsWalkable(bob.X, bob.Y), true)

	testutil.AssertEqual(t, "players", len(ps.Players()), 2)
	// bob lands on (-1,-1), so the two 3x3 views cover a 4x4 block
	testutil.AssertEqual(t, "bob position", bob.GetPosition(), models.Position{X: -1, Y: -1})
	testutil.AssertEqual(t, "viewport active", len(ws.ActiveChunks()), 16)
}

func TestPlayerService_SpawnSkipsBlockedTiles(t *testing.T) {
	ps, ws := newTestPlayers(t)
	if _, err := ws.SetTile(0, 0, models.TileWater); err != nil {
		t.Fatalf("SetTile: %v", err)
	}

	p, err := ps.GetOrCreatePlayer(context.Background(), "carol")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}
	testutil.AssertEqual(t, "first ring", max(abs(p.X), abs(p.Y)), 1)
}

func TestPlayerService_Move(t *testing.T) {
	ps, ws := newTestPlayers(t)
	ctx := context.Background()

	if _, err := ws.SetTile(0, -1, models.TileWall); err != nil {
		t.Fatalf("SetTile: %v", err)
	}
	if _, err := ws.SetTile(-1, 0, models.TileGrass, models.WithStructure("fence")); err != nil {
		t.Fatalf("SetTile: %v", err)
	}

	p, err := ps.GetOrCreatePlayer(ctx, "dave")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}

	moved, err := ps.Move(ctx, p.ID, "east")
	if err != nil {
		t.Fatalf("Move east: %v", err)
	}
	testutil.AssertEqual(t, "after east", moved.GetPosition(), models.Position{X: 1, Y: 0})

	if _, err := ps.Move(ctx, p.ID, "west"); err != nil {
		t.Fatalf("Move west: %v", err)
	}

	_, err = ps.Move(ctx, p.ID, "north")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("Move into wall: got %v want ErrBlocked", err)
	}
	_, err = ps.Move(ctx, p.ID, "west")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("Move into structure: got %v want ErrBlocked", err)
	}
	_, err = ps.Move(ctx, p.ID, "sideways")
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("got %v want ErrInvalidDirection", err)
	}
	_, err = ps.Move(ctx, "nobody", "east")
	if !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("got %v want ErrPlayerNotFound", err)
	}

	got, err := ps.GetPlayer(p.ID)
	if err != nil {
		t.Fatalf("GetPlayer: %v", err)
	}
	testutil.AssertEqual(t, "final", got.GetPosition(), models.Position{X: 0, Y: 0})
}

func TestPlayerService_MoveDragsViewport(t *testing.T) {
	ps, ws := newTestPlayers(t)
	ctx := context.Background()

	for x := 0; x <= 16; x++ {
		if _, err := ws.SetTile(x, 0, models.TileGrass); err != nil {
			t.Fatalf("SetTile: %v", err)
		}
	}
	p, err := ps.GetOrCreatePlayer(ctx, "erin")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}

	for i := 0; i < 16; i++ {
		if _, err := ps.Move(ctx, p.ID, "east"); err != nil {
			t.Fatalf("Move %d: %v", i, err)
		}
	}

	testutil.AssertEqual(t, "west column unloaded", ws.GetOrCreateChunk(-1, 0).IsLoaded(), false)
	testutil.AssertEqual(t, "east column loaded", ws.GetOrCreateChunk(2, 0).IsLoaded(), true)
}

func TestPlayerService_RemovePlayer(t *testing.T) {
	ps, _ := newTestPlayers(t)
	ctx := context.Background()

	p, err := ps.GetOrCreatePlayer(ctx, "frank")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}
	ps.RemovePlayer(ctx, p.ID)

	_, err = ps.GetPlayer(p.ID)
	if !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("got %v want ErrPlayerNotFound", err)
	}
	testutil.AssertEqual(t, "players", len(ps.Players()), 0)
}
