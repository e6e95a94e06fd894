// Package storage persists an audit log of tag resolutions in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ResolutionRecord is one finished tag resolution
type ResolutionRecord struct {
	ID         int64
	SessionID  string
	TagURL     string
	Outcome    string
	ErrorCode  int
	MaxDepth   int
	AdCount    int
	FailedURLs []string
	DurationMs int64
	CreatedAt  time.Time
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxOpen  int
	MaxIdle  int
}

// DSN returns the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslMode)
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ResolutionStore reads and writes the resolution audit log
type ResolutionStore struct {
	db *sql.DB
}

// NewResolutionStore creates a store on an open database
func NewResolutionStore(db *sql.DB) *ResolutionStore {
	return &ResolutionStore{db: db}
}

// Record inserts one resolution
func (s *ResolutionStore) Record(ctx context.Context, rec ResolutionRecord) error {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	query := `
		INSERT INTO vast_resolutions (
			session_id, tag_url, outcome, error_code, max_depth,
			ad_count, failed_urls, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rec.SessionID,
		rec.TagURL,
		rec.Outcome,
		rec.ErrorCode,
		rec.MaxDepth,
		rec.AdCount,
		pq.Array(rec.FailedURLs),
		rec.DurationMs,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}

	log.Debug().Int64("id", id).Str("session_id", rec.SessionID).Str("outcome", rec.Outcome).Msg("Resolution recorded")
	return nil
}

// DeepChains lists the most recent resolutions that followed at least
// minDepth wrappers, newest first.
func (s *ResolutionStore) DeepChains(ctx context.Context, minDepth, limit int) ([]*ResolutionRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, tag_url, outcome, error_code, max_depth,
			ad_count, failed_urls, duration_ms, created_at
		FROM vast_resolutions
		WHERE max_depth >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, minDepth, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolutions: %w", err)
	}
	defer rows.Close()

	var out []*ResolutionRecord
	for rows.Next() {
		rec := &ResolutionRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.TagURL,
			&rec.Outcome,
			&rec.ErrorCode,
			&rec.MaxDepth,
			&rec.AdCount,
			pq.Array(&rec.FailedURLs),
			&rec.DurationMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolutions: %w", err)
	}
	return out, nil
}
