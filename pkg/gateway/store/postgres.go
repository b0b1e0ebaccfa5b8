package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voicegate-io/voicegate/pkg/core/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const insertTurnSQL = `
INSERT INTO turns (
	session_id, turn_id, reason, transcript, reply, confidence, language, backend,
	speech_ms, listen_ms, transcribe_ms, reply_ms, synth_ms, started_at, ended_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const selectRecentSQL = `
SELECT session_id, turn_id, reason, transcript, reply, confidence, language, backend,
	speech_ms, listen_ms, transcribe_ms, reply_ms, synth_ms, started_at, ended_at
FROM turns
WHERE session_id = $1
ORDER BY ended_at DESC, id DESC
LIMIT $2`

// Postgres archives turns in a turns table, migrated on startup.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger.Info("turn store ready")
	return &Postgres{pool: pool, logger: logger}, nil
}

// migrate runs the embedded goose migrations through a database/sql
// handle borrowed from the pool. Closing the handle releases its
// connections without closing the pool.
func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Info("migration applied", "source", r.Source.Path)
	}
	return nil
}

func (p *Postgres) SaveTurn(ctx context.Context, sessionID string, sum session.TurnSummary) error {
	rec := RecordFromSummary(sessionID, sum)
	_, err := p.pool.Exec(ctx, insertTurnSQL,
		rec.SessionID, rec.TurnID, rec.Reason, rec.Transcript, rec.Reply,
		rec.Confidence, rec.Language, rec.Backend,
		rec.SpeechMs, rec.ListenMs, rec.TranscribeMs, rec.ReplyMs, rec.SynthMs,
		rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save turn: %w", err)
	}
	return nil
}

func (p *Postgres) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.pool.Query(ctx, selectRecentSQL, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[TurnRecord])
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	return records, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
