package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS coaching_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			coach_id TEXT NOT NULL DEFAULT '',
			session_type TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			duration_seconds INTEGER NOT NULL,
			transcript JSONB NOT NULL,
			report JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_coaching_sessions_user_created ON coaching_sessions (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO coaching_sessions (id, user_id, coach_id, session_type, start_time, end_time, duration_seconds, transcript, report)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID,
		rec.UserID,
		rec.CoachID,
		string(rec.Type),
		rec.StartTime,
		rec.EndTime,
		rec.DurationSeconds,
		transcript,
		[]byte(rec.Report),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		rec        Record
		typ        string
		transcript []byte
		report     []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, coach_id, session_type, start_time, end_time, duration_seconds, transcript, report
		 FROM coaching_sessions WHERE id=$1`,
		id,
	).Scan(&rec.ID, &rec.UserID, &rec.CoachID, &typ, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds, &transcript, &report)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session: %w", err)
	}
	rec.Type = SessionType(typ)
	if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
		return Record{}, fmt.Errorf("decode transcript: %w", err)
	}
	rec.Report = json.RawMessage(report)
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
