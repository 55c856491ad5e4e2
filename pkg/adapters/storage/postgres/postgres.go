// Package postgres persists checkpoints in PostgreSQL through the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Config holds PostgreSQL connection parameters.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CheckpointStore implements ports.CheckpointStore on a checkpoints table.
type CheckpointStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open validates the DSN and configures the pool. No connection is made until
// the first query or Ping.
func Open(cfg Config, logger *zap.Logger) (*CheckpointStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewCheckpointStore(db, logger), nil
}

// NewCheckpointStore wraps an existing connection pool
func NewCheckpointStore(db *sql.DB, logger *zap.Logger) *CheckpointStore {
	return &CheckpointStore{db: db, logger: logger}
}

// Ping checks that the database is reachable
func (s *CheckpointStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", translate(err))
	}
	return nil
}

// Close closes the connection pool
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

const (
	getLatestQuery = `
SELECT payload FROM checkpoints
WHERE thread_id = $1
ORDER BY sequence DESC
LIMIT 1`

	upsertQuery = `
INSERT INTO checkpoints (thread_id, sequence, created_at, source, step, parent_sequence, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (thread_id, sequence) DO UPDATE SET
	created_at = EXCLUDED.created_at,
	source = EXCLUDED.source,
	step = EXCLUDED.step,
	parent_sequence = EXCLUDED.parent_sequence,
	payload = EXCLUDED.payload`

	listQuery = `
SELECT payload FROM checkpoints
WHERE thread_id = $1
ORDER BY sequence DESC`

	threadsQuery = `
SELECT thread_id FROM checkpoints
GROUP BY thread_id
ORDER BY MAX(created_at) DESC`
)

// Get returns the latest checkpoint of a thread
func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, getLatestQuery, threadID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", translate(err))
	}
	return decode(payload)
}

// Put upserts a checkpoint keyed by (thread_id, sequence)
func (s *CheckpointStore) Put(ctx context.Context, threadID string, cp *domain.Checkpoint, meta domain.CheckpointMetadata) error {
	if cp == nil {
		return fmt.Errorf("%w: nil checkpoint", domain.ErrMalformedCheckpoint)
	}
	stored := *cp
	stored.ThreadID = threadID
	stored.Metadata = meta
	if err := stored.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedCheckpoint, err)
	}

	_, err = s.db.ExecContext(ctx, upsertQuery,
		threadID,
		stored.Sequence,
		stored.Timestamp,
		string(meta.Source),
		meta.Step,
		meta.ParentSequence,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", translate(err))
	}

	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", threadID),
		zap.Int64("sequence", stored.Sequence))
	return nil
}

// List returns all checkpoints of a thread, most recent first
func (s *CheckpointStore) List(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, listQuery, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", translate(err))
	}
	defer rows.Close()

	out := []*domain.Checkpoint{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", translate(err))
		}
		cp, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", translate(err))
	}
	return out, nil
}

// Threads returns thread ids ordered by most recent write
func (s *CheckpointStore) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, threadsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", translate(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", translate(err))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func decode(payload []byte) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCheckpoint, err)
	}
	if cp.ChannelValues != nil {
		cp.ChannelValues.Normalize()
	}
	return &cp, nil
}

// translate classifies PostgreSQL errors by SQLSTATE class.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return err
	}
	switch {
	case pgErr.Code == "42501" || pgErr.Code[:2] == "28":
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, pgErr.Message)
	case pgErr.Code[:2] == "08", pgErr.Code[:2] == "53", pgErr.Code[:2] == "57",
		pgErr.Code == "40001", pgErr.Code == "40P01":
		return domain.NewTransientIOError("postgres", err)
	case pgErr.Code[:2] == "22":
		return fmt.Errorf("%w: %s", domain.ErrMalformedCheckpoint, pgErr.Message)
	}
	return err
}
