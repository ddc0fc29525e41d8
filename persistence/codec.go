package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"isocity/server/models"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
}

// EncodeChunk renders a chunk record as zstd-compressed JSON
func EncodeChunk(rec models.ChunkRecord) ([]byte, error) {
	if rec.Tiles == nil {
		rec.Tiles = []models.TileRecord{}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshalling chunk %d,%d: %w", rec.ChunkX, rec.ChunkY, err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// ChunkJSON returns the uncompressed JSON form of a blob. Plain JSON blobs pass through.
func ChunkJSON(blob []byte) ([]byte, error) {
	if !bytes.HasPrefix(blob, zstdMagic) {
		return blob, nil
	}
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptChunk, err)
	}
	return raw, nil
}

// DecodeChunk reads a chunk blob written by EncodeChunk, or a plain JSON record.
//
// Only an unreadable envelope is an error. Per-tile fields that are missing or
// of the wrong kind are left for the caller to default: Type becomes "",
// Elevation and Walkable become nil, and an unreadable x or y becomes -1.
func DecodeChunk(blob []byte) (models.ChunkRecord, error) {
	var rec models.ChunkRecord

	raw, err := ChunkJSON(blob)
	if err != nil {
		return rec, err
	}

	var env struct {
		ChunkX      *int              `json:"chunkX"`
		ChunkY      *int              `json:"chunkY"`
		IsGenerated json.RawMessage   `json:"isGenerated"`
		Tiles       []json.RawMessage `json:"tiles"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	if env.ChunkX == nil || env.ChunkY == nil {
		return rec, fmt.Errorf("%w: missing chunk coordinates", ErrCorruptChunk)
	}

	rec.ChunkX = *env.ChunkX
	rec.ChunkY = *env.ChunkY
	decodeField(env.IsGenerated, &rec.IsGenerated)

	rec.Tiles = make([]models.TileRecord, 0, len(env.Tiles))
	for _, t := range env.Tiles {
		rec.Tiles = append(rec.Tiles, decodeTile(t))
	}
	return rec, nil
}

func decodeTile(raw json.RawMessage) models.TileRecord {
	tr := models.TileRecord{X: -1, Y: -1}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return tr
	}

	var x, y int
	if decodeField(fields["x"], &x) {
		tr.X = x
	}
	if decodeField(fields["y"], &y) {
		tr.Y = y
	}
	decodeField(fields["type"], &tr.Type)
	decodeField(fields["structure"], &tr.Structure)

	var elevation int
	if decodeField(fields["elevation"], &elevation) {
		tr.Elevation = &elevation
	}
	var walkable bool
	if decodeField(fields["walkable"], &walkable) {
		tr.Walkable = &walkable
	}
	return tr
}

// decodeField reports whether raw held a non-null value of v's kind.
func decodeField(raw json.RawMessage, v any) bool {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// EncodeWorld renders a world record as JSON
func EncodeWorld(rec models.WorldRecord) ([]byte, error) {
	if rec.ActiveChunks == nil {
		rec.ActiveChunks = []models.ChunkCoord{}
	}
	return json.Marshal(rec)
}

// DecodeWorld parses a world record
func DecodeWorld(raw []byte) (models.WorldRecord, error) {
	var rec models.WorldRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("unmarshalling world record: %w", err)
	}
	return rec, nil
}
