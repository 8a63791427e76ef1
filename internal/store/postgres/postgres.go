// Package postgres appends run output to PostgreSQL. Each batch is one
// transaction, so a failed batch leaves no rows behind.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/store"
)

const sinkName = "postgres"

// Schema creates the append-only tables
const Schema = `
CREATE TABLE IF NOT EXISTS hashsignal_posts (
	run_id                 TEXT        NOT NULL,
	hashtag                TEXT        NOT NULL,
	id                     TEXT        NOT NULL,
	content                TEXT        NOT NULL,
	ts                     TIMESTAMPTZ NOT NULL,
	author                 TEXT        NOT NULL,
	like_count             BIGINT      NOT NULL,
	retweet_count          BIGINT      NOT NULL,
	reply_count            BIGINT      NOT NULL,
	sentiment_polarity     DOUBLE PRECISION NOT NULL,
	sentiment_subjectivity DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, hashtag, id)
);
CREATE TABLE IF NOT EXISTS hashsignal_signals (
	run_id       TEXT             NOT NULL,
	hashtag      TEXT             NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	direction    TEXT             NOT NULL,
	strength     TEXT             NOT NULL,
	post_count   INTEGER          NOT NULL,
	breakdown    JSONB            NOT NULL,
	generated_at TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (run_id, hashtag)
);
CREATE INDEX IF NOT EXISTS hashsignal_signals_latest ON hashsignal_signals (hashtag, generated_at DESC);`

const insertPost = `
	INSERT INTO hashsignal_posts (run_id, hashtag, id, content, ts, author,
		like_count, retweet_count, reply_count, sentiment_polarity, sentiment_subjectivity)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const insertSignal = `
	INSERT INTO hashsignal_signals (run_id, hashtag, value, confidence, direction,
		strength, post_count, breakdown, generated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Config holds database connection configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Migrate         bool          `yaml:"migrate"` // create tables on open
}

// DefaultConfig returns reasonable defaults; disabled until configured
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Migrate:         true,
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required when postgres is enabled")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %s", c.QueryTimeout)
	}
	return nil
}

// Writer implements store.Writer
type Writer struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects, pings and optionally migrates
func Open(ctx context.Context, cfg Config) (*Writer, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	w := New(db, cfg.QueryTimeout)
	if cfg.Migrate {
		if err := w.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return w, nil
}

// New wraps an existing connection
func New(db *sqlx.DB, timeout time.Duration) *Writer {
	return &Writer{db: db, timeout: timeout}
}

func (w *Writer) Name() string { return sinkName }

func (w *Writer) Close() error { return w.db.Close() }

// Migrate creates the tables if they do not exist
func (w *Writer) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Append inserts the batch in a single transaction
func (w *Writer) Append(ctx context.Context, b store.Batch) error {
	if b.Empty() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout*time.Duration(len(b.Posts)/100+1))
	defer cancel()

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	if len(b.Posts) > 0 {
		if err := insertPosts(ctx, tx, b); err != nil {
			return err
		}
	}
	for _, s := range b.Signals {
		breakdown, err := json.Marshal(s.Breakdown)
		if err != nil {
			return storageErr("marshal breakdown", err)
		}
		if _, err := tx.ExecContext(ctx, insertSignal,
			b.RunID, s.Hashtag, s.Value, s.Confidence, string(s.Direction),
			string(s.Strength), s.PostCount, breakdown, s.GeneratedAt.UTC()); err != nil {
			return storageErr("insert signal", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	log.Debug().Str("run_id", b.RunID).Str("hashtag", b.Hashtag).
		Int("posts", len(b.Posts)).Int("signals", len(b.Signals)).Msg("Batch committed")
	return nil
}

func insertPosts(ctx context.Context, tx *sqlx.Tx, b store.Batch) error {
	stmt, err := tx.PreparexContext(ctx, insertPost)
	if err != nil {
		return storageErr("prepare", err)
	}
	defer stmt.Close()

	for _, p := range b.Posts {
		if _, err := stmt.ExecContext(ctx,
			b.RunID, b.Hashtag, p.Post.ID, p.Post.NormalizedText, p.Post.Timestamp.UTC(), p.Post.Author,
			p.Post.Engagement.Likes, p.Post.Engagement.Reposts, p.Post.Engagement.Replies,
			p.Sentiment.Polarity, p.Sentiment.Subjectivity); err != nil {
			return storageErr("insert post", err)
		}
	}
	return nil
}

func storageErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		op += " (duplicate)"
	}
	return &faults.StorageWriteError{Sink: sinkName, Op: op, Err: err}
}

type signalRow struct {
	RunID       string    `db:"run_id"`
	Hashtag     string    `db:"hashtag"`
	Value       float64   `db:"value"`
	Confidence  float64   `db:"confidence"`
	Direction   string    `db:"direction"`
	Strength    string    `db:"strength"`
	PostCount   int       `db:"post_count"`
	Breakdown   []byte    `db:"breakdown"`
	GeneratedAt time.Time `db:"generated_at"`
}

// LatestSignal returns the most recent signal stored for hashtag, or
// (nil, nil) when there is none
func (w *Writer) LatestSignal(ctx context.Context, hashtag string) (*domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var row signalRow
	err := w.db.GetContext(ctx, &row, `
		SELECT run_id, hashtag, value, confidence, direction, strength, post_count, breakdown, generated_at
		FROM hashsignal_signals
		WHERE hashtag = $1
		ORDER BY generated_at DESC
		LIMIT 1`, domain.NormalizeHashtag(hashtag))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest signal: %w", err)
	}

	sig := domain.Signal{
		RunID:       row.RunID,
		Hashtag:     row.Hashtag,
		Value:       row.Value,
		Confidence:  row.Confidence,
		Direction:   domain.Direction(row.Direction),
		Strength:    domain.Strength(row.Strength),
		PostCount:   row.PostCount,
		GeneratedAt: row.GeneratedAt.UTC(),
	}
	if err := json.Unmarshal(row.Breakdown, &sig.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	return &sig, nil
}

var _ store.Writer = (*Writer)(nil)
