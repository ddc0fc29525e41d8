package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"isocity/server/models"
)

// SQLiteStore handles persistence using a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file at path
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			world_id TEXT NOT NULL,
			chunk_x INTEGER NOT NULL,
			chunk_y INTEGER NOT NULL,
			blob BLOB NOT NULL,
			PRIMARY KEY (world_id, chunk_x, chunk_y)
		);`,
		`CREATE TABLE IF NOT EXISTS worlds (
			world_id TEXT PRIMARY KEY,
			record TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutChunk(ctx context.Context, worldID string, chunkX, chunkY int, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (world_id, chunk_x, chunk_y, blob) VALUES (?, ?, ?, ?)
		ON CONFLICT (world_id, chunk_x, chunk_y) DO UPDATE SET blob = excluded.blob`,
		worldID, chunkX, chunkY, blob)
	if err != nil {
		return fmt.Errorf("saving chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, worldID string, chunkX, chunkY int) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM chunks WHERE world_id = ? AND chunk_x = ? AND chunk_y = ?`,
		worldID, chunkX, chunkY).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return blob, nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, worldID string) ([]models.ChunkCoord, error) {
	return queryChunkCoords(ctx, s.db,
		`SELECT chunk_x, chunk_y FROM chunks WHERE world_id = ? ORDER BY chunk_x, chunk_y`, worldID)
}

func (s *SQLiteStore) DeleteWorld(ctx context.Context, worldID string) error {
	return deleteWorldRows(ctx, s.db,
		`DELETE FROM chunks WHERE world_id = ?`,
		`DELETE FROM worlds WHERE world_id = ?`,
		worldID)
}

func (s *SQLiteStore) PutWorld(ctx context.Context, rec models.WorldRecord) error {
	raw, err := EncodeWorld(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO worlds (world_id, record) VALUES (?, ?)
		ON CONFLICT (world_id) DO UPDATE SET record = excluded.record`,
		rec.WorldID, string(raw))
	if err != nil {
		return fmt.Errorf("saving world %s: %w", rec.WorldID, err)
	}
	return nil
}

func (s *SQLiteStore) GetWorld(ctx context.Context, worldID string) (models.WorldRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM worlds WHERE world_id = ?`, worldID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.WorldRecord{}, ErrNotFound
		}
		return models.WorldRecord{}, fmt.Errorf("loading world %s: %w", worldID, err)
	}
	return DecodeWorld([]byte(raw))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
