package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"isocity/server/models"
)

// LevelDBStore keeps chunk blobs in an embedded LevelDB key-value database.
//
// Keys: "c\x00<world>\x00<x>,<y>" for chunks, "w\x00<world>" for world records.
// World ids may not contain NUL, the key separator.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) the database directory at path
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func checkWorldID(worldID string) error {
	if worldID == "" || strings.ContainsRune(worldID, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidWorldID, worldID)
	}
	return nil
}

func chunkPrefix(worldID string) []byte {
	return []byte("c\x00" + worldID + "\x00")
}

func levelChunkKey(worldID string, chunkX, chunkY int) []byte {
	return append(chunkPrefix(worldID), chunkKey(chunkX, chunkY)...)
}

func levelWorldKey(worldID string) []byte {
	return []byte("w\x00" + worldID)
}

func (ls *LevelDBStore) PutChunk(_ context.Context, worldID string, chunkX, chunkY int, blob []byte) error {
	if err := checkWorldID(worldID); err != nil {
		return err
	}
	if err := ls.db.Put(levelChunkKey(worldID, chunkX, chunkY), blob, nil); err != nil {
		return fmt.Errorf("saving chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return nil
}

func (ls *LevelDBStore) GetChunk(_ context.Context, worldID string, chunkX, chunkY int) ([]byte, error) {
	if err := checkWorldID(worldID); err != nil {
		return nil, err
	}
	blob, err := ls.db.Get(levelChunkKey(worldID, chunkX, chunkY), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return blob, nil
}

func (ls *LevelDBStore) ListChunks(ctx context.Context, worldID string) ([]models.ChunkCoord, error) {
	if err := checkWorldID(worldID); err != nil {
		return nil, err
	}
	prefix := chunkPrefix(worldID)
	iter := ls.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	coords := []models.ChunkCoord{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, ok := parseChunkKey(string(iter.Key()[len(prefix):]))
		if !ok {
			continue
		}
		coords = append(coords, c)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	sortCoords(coords)
	return coords, nil
}

func (ls *LevelDBStore) DeleteWorld(_ context.Context, worldID string) error {
	if err := checkWorldID(worldID); err != nil {
		return err
	}
	batch := new(leveldb.Batch)

	iter := ls.db.NewIterator(util.BytesPrefix(chunkPrefix(worldID)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scanning world %s: %w", worldID, err)
	}
	batch.Delete(levelWorldKey(worldID))

	if err := ls.db.Write(batch, nil); err != nil {
		return fmt.Errorf("deleting world %s: %w", worldID, err)
	}
	return nil
}

func (ls *LevelDBStore) PutWorld(_ context.Context, rec models.WorldRecord) error {
	if err := checkWorldID(rec.WorldID); err != nil {
		return err
	}
	raw, err := EncodeWorld(rec)
	if err != nil {
		return err
	}
	if err := ls.db.Put(levelWorldKey(rec.WorldID), raw, nil); err != nil {
		return fmt.Errorf("saving world %s: %w", rec.WorldID, err)
	}
	return nil
}

func (ls *LevelDBStore) GetWorld(_ context.Context, worldID string) (models.WorldRecord, error) {
	if err := checkWorldID(worldID); err != nil {
		return models.WorldRecord{}, err
	}
	raw, err := ls.db.Get(levelWorldKey(worldID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return models.WorldRecord{}, ErrNotFound
		}
		return models.WorldRecord{}, fmt.Errorf("loading world %s: %w", worldID, err)
	}
	return DecodeWorld(raw)
}

func (ls *LevelDBStore) Close() error {
	return ls.db.Close()
}
