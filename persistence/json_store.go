package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"isocity/server/models"
)

// JSONStore handles persistence using a single local JSON file
type JSONStore struct {
	filePath string
	mutex    sync.RWMutex
	data     *JSONData
}

// JSONData represents the structure of the JSON database.
// Chunk blobs are keyed by "chunkX,chunkY" within each world.
type JSONData struct {
	Chunks map[string]map[string][]byte `json:"chunks"`
	Worlds map[string]json.RawMessage   `json:"worlds"`
}

// NewJSONStore opens the JSON file at filePath, creating it if it does not exist
func NewJSONStore(filePath string) (*JSONStore, error) {
	store := &JSONStore{
		filePath: filePath,
		data:     newJSONData(),
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := store.loadFromFile(); err != nil {
			return nil, fmt.Errorf("loading JSON store: %w", err)
		}
	} else {
		if dir := filepath.Dir(filePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating JSON store directory: %w", err)
			}
		}
		if err := store.saveToFile(); err != nil {
			return nil, fmt.Errorf("creating JSON store file: %w", err)
		}
	}

	return store, nil
}

func newJSONData() *JSONData {
	return &JSONData{
		Chunks: make(map[string]map[string][]byte),
		Worlds: make(map[string]json.RawMessage),
	}
}

func (js *JSONStore) loadFromFile() error {
	js.mutex.Lock()
	defer js.mutex.Unlock()

	file, err := os.ReadFile(js.filePath)
	if err != nil {
		return err
	}

	data := newJSONData()
	if err := json.Unmarshal(file, data); err != nil {
		return err
	}
	if data.Chunks == nil {
		data.Chunks = make(map[string]map[string][]byte)
	}
	if data.Worlds == nil {
		data.Worlds = make(map[string]json.RawMessage)
	}
	js.data = data
	return nil
}

// saveToFile writes the whole database. Callers must hold the mutex.
func (js *JSONStore) saveToFile() error {
	data, err := json.MarshalIndent(js.data, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(js.filePath, data, 0o644)
}

// atomicWrite writes data to a temp file then renames it over path
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			slog.Warn("failed to remove temp file after rename failure", "path", tmp, "error", removeErr)
		}
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func chunkKey(chunkX, chunkY int) string {
	return fmt.Sprintf("%d,%d", chunkX, chunkY)
}

func parseChunkKey(key string) (models.ChunkCoord, bool) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return models.ChunkCoord{}, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return models.ChunkCoord{}, false
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return models.ChunkCoord{}, false
	}
	return models.ChunkCoord{X: x, Y: y}, true
}

func (js *JSONStore) PutChunk(_ context.Context, worldID string, chunkX, chunkY int, blob []byte) error {
	js.mutex.Lock()
	defer js.mutex.Unlock()

	world, ok := js.data.Chunks[worldID]
	if !ok {
		world = make(map[string][]byte)
		js.data.Chunks[worldID] = world
	}
	key := chunkKey(chunkX, chunkY)
	prev, hadPrev := world[key]
	world[key] = append([]byte(nil), blob...)

	if err := js.saveToFile(); err != nil {
		// memory must not run ahead of the file
		if hadPrev {
			world[key] = prev
		} else {
			delete(world, key)
			if len(world) == 0 {
				delete(js.data.Chunks, worldID)
			}
		}
		return fmt.Errorf("saving chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return nil
}

func (js *JSONStore) GetChunk(_ context.Context, worldID string, chunkX, chunkY int) ([]byte, error) {
	js.mutex.RLock()
	defer js.mutex.RUnlock()

	blob, ok := js.data.Chunks[worldID][chunkKey(chunkX, chunkY)]
	if !ok {
		return nil, ErrNotFound
	}
	return blob, nil
}

func (js *JSONStore) ListChunks(_ context.Context, worldID string) ([]models.ChunkCoord, error) {
	js.mutex.RLock()
	defer js.mutex.RUnlock()

	coords := make([]models.ChunkCoord, 0, len(js.data.Chunks[worldID]))
	for key := range js.data.Chunks[worldID] {
		c, ok := parseChunkKey(key)
		if !ok {
			slog.Warn("skipping malformed chunk key", "world", worldID, "key", key)
			continue
		}
		coords = append(coords, c)
	}
	sortCoords(coords)
	return coords, nil
}

func (js *JSONStore) DeleteWorld(_ context.Context, worldID string) error {
	js.mutex.Lock()
	defer js.mutex.Unlock()

	chunks, hadChunks := js.data.Chunks[worldID]
	world, hadWorld := js.data.Worlds[worldID]
	delete(js.data.Chunks, worldID)
	delete(js.data.Worlds, worldID)

	if err := js.saveToFile(); err != nil {
		if hadChunks {
			js.data.Chunks[worldID] = chunks
		}
		if hadWorld {
			js.data.Worlds[worldID] = world
		}
		return fmt.Errorf("deleting world %s: %w", worldID, err)
	}
	return nil
}

func (js *JSONStore) PutWorld(_ context.Context, rec models.WorldRecord) error {
	raw, err := EncodeWorld(rec)
	if err != nil {
		return err
	}

	js.mutex.Lock()
	defer js.mutex.Unlock()

	prev, hadPrev := js.data.Worlds[rec.WorldID]
	js.data.Worlds[rec.WorldID] = raw

	if err := js.saveToFile(); err != nil {
		if hadPrev {
			js.data.Worlds[rec.WorldID] = prev
		} else {
			delete(js.data.Worlds, rec.WorldID)
		}
		return fmt.Errorf("saving world %s: %w", rec.WorldID, err)
	}
	return nil
}

func (js *JSONStore) GetWorld(_ context.Context, worldID string) (models.WorldRecord, error) {
	js.mutex.RLock()
	raw, ok := js.data.Worlds[worldID]
	js.mutex.RUnlock()

	if !ok {
		return models.WorldRecord{}, ErrNotFound
	}
	return DecodeWorld(raw)
}

// Close is a no-op for the JSON store; every write is already on disk
func (js *JSONStore) Close() error {
	return nil
}
