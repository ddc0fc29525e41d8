package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"isocity/server/models"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore handles persistence using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and initializes the schema
func NewPostgresStore(ctx context.Context, connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return store, nil
}

func (ps *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		world_id TEXT NOT NULL,
		chunk_x INTEGER NOT NULL,
		chunk_y INTEGER NOT NULL,
		blob BYTEA NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (world_id, chunk_x, chunk_y)
	);

	CREATE TABLE IF NOT EXISTS worlds (
		world_id TEXT PRIMARY KEY,
		record JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	_, err := ps.db.ExecContext(ctx, schema)
	return err
}

func (ps *PostgresStore) PutChunk(ctx context.Context, worldID string, chunkX, chunkY int, blob []byte) error {
	query := `
	INSERT INTO chunks (world_id, chunk_x, chunk_y, blob)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (world_id, chunk_x, chunk_y)
	DO UPDATE SET blob = $4, updated_at = NOW()
	`

	if _, err := ps.db.ExecContext(ctx, query, worldID, chunkX, chunkY, blob); err != nil {
		return fmt.Errorf("saving chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return nil
}

func (ps *PostgresStore) GetChunk(ctx context.Context, worldID string, chunkX, chunkY int) ([]byte, error) {
	query := `SELECT blob FROM chunks WHERE world_id = $1 AND chunk_x = $2 AND chunk_y = $3`

	var blob []byte
	err := ps.db.QueryRowContext(ctx, query, worldID, chunkX, chunkY).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading chunk %d,%d: %w", chunkX, chunkY, err)
	}
	return blob, nil
}

func (ps *PostgresStore) ListChunks(ctx context.Context, worldID string) ([]models.ChunkCoord, error) {
	return queryChunkCoords(ctx, ps.db,
		`SELECT chunk_x, chunk_y FROM chunks WHERE world_id = $1 ORDER BY chunk_x, chunk_y`, worldID)
}

func (ps *PostgresStore) DeleteWorld(ctx context.Context, worldID string) error {
	return deleteWorldRows(ctx, ps.db,
		`DELETE FROM chunks WHERE world_id = $1`,
		`DELETE FROM worlds WHERE world_id = $1`,
		worldID)
}

func (ps *PostgresStore) PutWorld(ctx context.Context, rec models.WorldRecord) error {
	raw, err := EncodeWorld(rec)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO worlds (world_id, record)
	VALUES ($1, $2)
	ON CONFLICT (world_id)
	DO UPDATE SET record = $2, updated_at = NOW()
	`

	if _, err := ps.db.ExecContext(ctx, query, rec.WorldID, string(raw)); err != nil {
		return fmt.Errorf("saving world %s: %w", rec.WorldID, err)
	}
	return nil
}

func (ps *PostgresStore) GetWorld(ctx context.Context, worldID string) (models.WorldRecord, error) {
	var raw string
	err := ps.db.QueryRowContext(ctx, `SELECT record FROM worlds WHERE world_id = $1`, worldID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.WorldRecord{}, ErrNotFound
		}
		return models.WorldRecord{}, fmt.Errorf("loading world %s: %w", worldID, err)
	}
	return DecodeWorld([]byte(raw))
}

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	slog.Info("closing database connection", "driver", "postgres")
	return ps.db.Close()
}

func queryChunkCoords(ctx context.Context, db *sql.DB, query string, worldID string) ([]models.ChunkCoord, error) {
	rows, err := db.QueryContext(ctx, query, worldID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	coords := []models.ChunkCoord{}
	for rows.Next() {
		var c models.ChunkCoord
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("scanning chunk coordinate: %w", err)
		}
		coords = append(coords, c)
	}
	return coords, rows.Err()
}

func deleteWorldRows(ctx context.Context, db *sql.DB, chunksQuery, worldQuery, worldID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete of world %s: %w", worldID, err)
	}
	if _, err := tx.ExecContext(ctx, chunksQuery, worldID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("deleting chunks of world %s: %w", worldID, err)
	}
	if _, err := tx.ExecContext(ctx, worldQuery, worldID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("deleting world %s: %w", worldID, err)
	}
	return tx.Commit()
}
