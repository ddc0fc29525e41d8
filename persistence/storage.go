package persistence

import (
	"context"
	"errors"
	"sort"

	"isocity/server/models"
)

var (
	// ErrNotFound is returned by GetChunk and GetWorld when nothing is stored under the key.
	ErrNotFound = errors.New("not found")
	// ErrCorruptChunk is returned when a stored chunk blob cannot be read at all.
	ErrCorruptChunk = errors.New("corrupt chunk blob")
	// ErrInvalidWorldID is returned for world ids a store cannot key safely.
	ErrInvalidWorldID = errors.New("invalid world id")
)

// Storage defines the interface for chunk and world persistence.
// Chunk blobs are opaque to the store; see EncodeChunk and DecodeChunk.
type Storage interface {
	PutChunk(ctx context.Context, worldID string, chunkX, chunkY int, blob []byte) error
	GetChunk(ctx context.Context, worldID string, chunkX, chunkY int) ([]byte, error)
	ListChunks(ctx context.Context, worldID string) ([]models.ChunkCoord, error)
	DeleteWorld(ctx context.Context, worldID string) error
	PutWorld(ctx context.Context, rec models.WorldRecord) error
	GetWorld(ctx context.Context, worldID string) (models.WorldRecord, error)
	Close() error
}

func sortCoords(coords []models.ChunkCoord) {
	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })
}
