package persistence

import (
	"context"
	"sync"

	"isocity/server/models"
)

// MemoryStore keeps chunk blobs in process memory. Used for tests and throwaway worlds.
type MemoryStore struct {
	mutex  sync.RWMutex
	chunks map[string]map[models.ChunkCoord][]byte
	worlds map[string]models.WorldRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]map[models.ChunkCoord][]byte),
		worlds: make(map[string]models.WorldRecord),
	}
}

func (ms *MemoryStore) PutChunk(_ context.Context, worldID string, chunkX, chunkY int, blob []byte) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	world, ok := ms.chunks[worldID]
	if !ok {
		world = make(map[models.ChunkCoord][]byte)
		ms.chunks[worldID] = world
	}
	world[models.ChunkCoord{X: chunkX, Y: chunkY}] = append([]byte(nil), blob...)
	return nil
}

func (ms *MemoryStore) GetChunk(_ context.Context, worldID string, chunkX, chunkY int) ([]byte, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	blob, ok := ms.chunks[worldID][models.ChunkCoord{X: chunkX, Y: chunkY}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (ms *MemoryStore) ListChunks(_ context.Context, worldID string) ([]models.ChunkCoord, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	coords := make([]models.ChunkCoord, 0, len(ms.chunks[worldID]))
	for c := range ms.chunks[worldID] {
		coords = append(coords, c)
	}
	sortCoords(coords)
	return coords, nil
}

func (ms *MemoryStore) DeleteWorld(_ context.Context, worldID string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	delete(ms.chunks, worldID)
	delete(ms.worlds, worldID)
	return nil
}

func (ms *MemoryStore) PutWorld(_ context.Context, rec models.WorldRecord) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	rec.ActiveChunks = append([]models.ChunkCoord(nil), rec.ActiveChunks...)
	ms.worlds[rec.WorldID] = rec
	return nil
}

func (ms *MemoryStore) GetWorld(_ context.Context, worldID string) (models.WorldRecord, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	rec, ok := ms.worlds[worldID]
	if !ok {
		return models.WorldRecord{}, ErrNotFound
	}
	return rec, nil
}

// Close is a no-op for the memory store
func (ms *MemoryStore) Close() error {
	return nil
}
