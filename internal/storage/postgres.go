package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs entity queries against either the pool or an open transaction
type Queries struct {
	q querier
}

// PostgresStorage is the durable store for requests, reports, the ledger and the audit log
type PostgresStorage struct {
	*Queries
	db *sql.DB
}

func NewPostgresStorage(host, port, user, password, dbName, sslMode string) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	storage := NewStorageFromDB(db)
	if err := storage.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize db schema: %w", err)
	}

	return storage, nil
}

// NewStorageFromDB wraps an already opened database. The schema is not created.
func NewStorageFromDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{Queries: &Queries{q: db}, db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category VARCHAR(16) NOT NULL,
		reward_amount BIGINT NOT NULL DEFAULT 0,
		deposit_amount BIGINT NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		photos TEXT NOT NULL DEFAULT '[]',
		status VARCHAR(32) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_status_created ON requests(status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_owner ON requests(owner_id)`,

	`CREATE TABLE IF NOT EXISTS reports (
		id VARCHAR(36) PRIMARY KEY,
		request_id VARCHAR(36) NOT NULL REFERENCES requests(id),
		reporter_id VARCHAR(64) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		photos TEXT NOT NULL DEFAULT '[]',
		capture_latitude DOUBLE PRECISION,
		capture_longitude DOUBLE PRECISION,
		captured_at TIMESTAMP,
		verification_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		similarity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		delivery_secret VARCHAR(128),
		secret_issued_at TIMESTAMP,
		delivered_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_request ON reports(request_id)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(36) PRIMARY KEY,
		type VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		request_id VARCHAR(36) REFERENCES requests(id),
		report_id VARCHAR(36) REFERENCES reports(id),
		payment_ref VARCHAR(128) UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_request ON transactions(request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_report ON transactions(report_id)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(36) PRIMARY KEY,
		actor_id VARCHAR(64) NOT NULL,
		action VARCHAR(64) NOT NULL,
		target_type VARCHAR(32) NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS reviews (
		id VARCHAR(36) PRIMARY KEY,
		request_id VARCHAR(36) NOT NULL REFERENCES requests(id),
		reviewer_id VARCHAR(64) NOT NULL,
		reviewee_id VARCHAR(64) NOT NULL,
		rating INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (request_id, reviewer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS support_tickets (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		request_id VARCHAR(36) REFERENCES requests(id),
		subject TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id VARCHAR(36) PRIMARY KEY,
		request_id VARCHAR(36) NOT NULL REFERENCES requests(id),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id VARCHAR(36) PRIMARY KEY,
		room_id VARCHAR(36) NOT NULL REFERENCES chat_rooms(id),
		sender_id VARCHAR(64) NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// Init creates necessary tables
func (s *PostgresStorage) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying pool
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection
func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// WithTx runs fn inside one transaction. Any error from fn rolls everything back.
func (s *PostgresStorage) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// placeholders returns "$start, $start+1, ..." for n arguments
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Warn().Err(err).Str("raw", raw).Msg("Failed to decode stored list")
		return []string{}
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// notFound converts sql.ErrNoRows into a NotFound error
func notFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.NotFound, err, fmt.Sprintf("%s %s not found", entity, id))
	}
	return err
}

// isUniqueViolation recognizes duplicate-key errors from Postgres and SQLite
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// expectOne turns a zero-row conditional update into an InvalidState error
func expectOne(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return apperr.InvalidStatef(format, args...)
	}
	return nil
}
