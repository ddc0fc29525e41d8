package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"isocity/server/models"
	"isocity/server/persistence"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps a MemoryStore and fails the operations switched on
type flakyStore struct {
	*persistence.MemoryStore

	mutex    sync.Mutex
	failPut  bool
	failGet  bool
	putCount int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: persistence.NewMemoryStore()}
}

func (s *flakyStore) setFailPut(v bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failPut = v
}

func (s *flakyStore) puts() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.putCount
}

func (s *flakyStore) PutChunk(ctx context.Context, worldID string, chunkX, chunkY int, blob []byte) error {
	s.mutex.Lock()
	fail := s.failPut
	if !fail {
		s.putCount++
	}
	s.mutex.Unlock()
	if fail {
		return errStoreDown
	}
	return s.MemoryStore.PutChunk(ctx, worldID, chunkX, chunkY, blob)
}

func (s *flakyStore) GetChunk(ctx context.Context, worldID string, chunkX, chunkY int) ([]byte, error) {
	s.mutex.Lock()
	fail := s.failGet
	s.mutex.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.MemoryStore.GetChunk(ctx, worldID, chunkX, chunkY)
}

func testOptions() WorldOptions {
	return WorldOptions{
		WorldID:    "test",
		Seed:       42,
		ChunkSize:  16,
		GridWidth:  32,
		GridHeight: 32,
	}
}

func newTestWorld(t *testing.T, db persistence.Storage) *WorldService {
	t.Helper()
	return NewWorldService(testOptions(), db, nil)
}

// loadedChunk loads a chunk through the world and returns it
func loadedChunk(t *testing.T, ws *WorldService, chunkX, chunkY int) *Chunk {
	t.Helper()
	ch := ws.LoadChunk(chunkX, chunkY)
	if !ch.IsLoaded() {
		t.Fatalf("chunk %d,%d not loaded", chunkX, chunkY)
	}
	return ch
}

func storedChunk(t *testing.T, db persistence.Storage, worldID string, chunkX, chunkY int) models.ChunkRecord {
	t.Helper()
	blob, err := db.GetChunk(context.Background(), worldID, chunkX, chunkY)
	if err != nil {
		t.Fatalf("GetChunk %d,%d: %v", chunkX, chunkY, err)
	}
	rec, err := persistence.DecodeChunk(blob)
	if err != nil {
		t.Fatalf("DecodeChunk %d,%d: %v", chunkX, chunkY, err)
	}
	return rec
}
