// Package sqlite stores photos, balances and attempts in an embedded SQLite
// database. It backs single-node deployments that run without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"photoenhance/internal/domain"
)

// Store implements the photo, ledger, admission and attempt repositories.
// Timestamps are stored as unix nanoseconds so range predicates compare
// numerically.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	dbPath = strings.TrimPrefix(strings.TrimSpace(dbPath), "sqlite://")
	if dbPath == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers so conditional updates never race.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS photos (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			source_ref      TEXT NOT NULL,
			source_name     TEXT NOT NULL DEFAULT '',
			source_mime     TEXT NOT NULL DEFAULT '',
			source_checksum TEXT NOT NULL DEFAULT '',
			source_bytes    INTEGER NOT NULL DEFAULT 0,
			result_ref      TEXT,
			result_checksum TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'PENDING',
			attempts        INTEGER NOT NULL DEFAULT 0,
			error_code      TEXT NOT NULL DEFAULT '',
			error_message   TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			started_at      INTEGER,
			completed_at    INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_photos_status_created ON photos(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_photos_status_updated ON photos(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_photos_owner ON photos(owner_id, created_at);

		CREATE TABLE IF NOT EXISTS user_credits (
			user_id    TEXT PRIMARY KEY,
			credits    INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			unlimited  INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS photo_attempts (
			id                  TEXT PRIMARY KEY,
			photo_id            TEXT NOT NULL,
			attempt             INTEGER NOT NULL,
			caller              TEXT NOT NULL DEFAULT '',
			outcome             TEXT NOT NULL,
			error_code          TEXT NOT NULL DEFAULT '',
			latency_ms          INTEGER NOT NULL DEFAULT 0,
			upstream_latency_ms INTEGER NOT NULL DEFAULT 0,
			confidence          REAL NOT NULL DEFAULT 0,
			model               TEXT NOT NULL DEFAULT '',
			created_at          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_photo_attempts_photo ON photo_attempts(photo_id, created_at);
	`)
	return err
}

const photoColumns = `id, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
	result_ref, result_checksum, status, attempts, error_code, error_message, title, description,
	created_at, updated_at, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row scanner) (*domain.Photo, error) {
	var (
		p                    domain.Photo
		resultRef            sql.NullString
		status               string
		createdAt, updatedAt int64
		startedAt, completed sql.NullInt64
	)
	if err := row.Scan(
		&p.ID, &p.OwnerID, &p.SourceRef, &p.SourceName, &p.SourceMIME, &p.SourceChecksum, &p.SourceBytes,
		&resultRef, &p.ResultChecksum, &status, &p.Attempts, &p.ErrorCode, &p.ErrorMessage, &p.Title, &p.Description,
		&createdAt, &updatedAt, &startedAt, &completed,
	); err != nil {
		return nil, err
	}
	p.Status = domain.PhotoStatus(status)
	if resultRef.Valid {
		p.ResultRef = resultRef.String
	}
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	if startedAt.Valid {
		t := fromNanos(startedAt.Int64)
		p.StartedAt = &t
	}
	if completed.Valid {
		t := fromNanos(completed.Int64)
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	p, err := scanPhoto(s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", id, err)
	}
	return p, nil
}

// Admit debits the owner and inserts the photo inside one transaction.
func (s *Store) Admit(ctx context.Context, photo *domain.Photo, cost int) (*domain.CreditBalance, error) {
	if photo == nil {
		return nil, errors.New("admit: photo is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("admit: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE user_credits
		SET credits = CASE WHEN unlimited = 1 THEN credits ELSE credits - ? END,
		    updated_at = ?
		WHERE user_id = ? AND (unlimited = 1 OR credits >= ?)
	`, cost, nanos(now), photo.OwnerID, cost)
	if err != nil {
		return nil, fmt.Errorf("admit: debit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrInsufficientCredits
	}

	if photo.UpdatedAt.IsZero() {
		photo.UpdatedAt = photo.CreatedAt
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO photos (id, owner_id, source_ref, source_name, source_mime, source_checksum, source_bytes,
		                    status, title, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'PENDING', ?, ?, ?, ?)
	`,
		photo.ID, photo.OwnerID, photo.SourceRef, photo.SourceName, photo.SourceMIME, photo.SourceChecksum, photo.SourceBytes,
		photo.Title, photo.Description, nanos(photo.CreatedAt), nanos(photo.UpdatedAt),
	); err != nil {
		return nil, fmt.Errorf("admit: insert photo: %w", err)
	}

	balance, err := scanBalance(photo.OwnerID, tx.QueryRowContext(ctx, `SELECT credits, unlimited, updated_at FROM user_credits WHERE user_id = ?`, photo.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("admit: read balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("admit: commit: %w", err)
	}
	photo.Status = domain.StatusPending
	return balance, nil
}

func (s *Store) Claim(ctx context.Context, id string, at time.Time) (*domain.Photo, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE photos
		SET status = 'PROCESSING', attempts = attempts + 1, error_code = '', error_message = '',
		    started_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'FAILED')
	`, nanos(at), nanos(at), id)
	if err != nil {
		return nil, fmt.Errorf("claim photo %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.conflictOrMissing(ctx, id, "claim")
	}
	return s.GetByID(ctx, id)
}

func (s *Store) Complete(ctx context.Context, id, resultRef, resultChecksum string, at time.Time) error {
	return s.transition(ctx, id, "complete", `
		UPDATE photos
		SET status = 'COMPLETED', result_ref = ?, result_checksum = ?, error_code = '', error_message = '',
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PROCESSING'
	`, resultRef, resultChecksum, nanos(at), nanos(at), id)
}

func (s *Store) Fail(ctx context.Context, id string, code domain.ErrorCode, message string, at time.Time) error {
	return s.transition(ctx, id, "fail", `
		UPDATE photos
		SET status = 'FAILED', error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'PROCESSING'
	`, string(code), message, nanos(at), id)
}

func (s *Store) Reset(ctx context.Context, id string, from domain.PhotoStatus, notAfter, at time.Time) error {
	return s.transition(ctx, id, "reset", `
		UPDATE photos
		SET status = 'PENDING', result_ref = NULL, result_checksum = '', completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND updated_at < ?
	`, nanos(at), id, string(from), nanos(notAfter))
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos
		WHERE status = 'PENDING' AND created_at < ? ORDER BY created_at ASC LIMIT ?`, nanos(createdBefore), limit)
}

func (s *Store) ListStalledProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos
		WHERE status = 'PROCESSING' AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`, nanos(updatedBefore), limit)
}

func (s *Store) ListCompleted(ctx context.Context, updatedAfter time.Time, limit int) ([]domain.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos
		WHERE status = 'COMPLETED' AND updated_at >= ? ORDER BY updated_at DESC LIMIT ?`, nanos(updatedAfter), limit)
}

func (s *Store) UpdateDetails(ctx context.Context, id, ownerID, title, description string, at time.Time) (*domain.Photo, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE photos SET title = ?, description = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, title, description, nanos(at), id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update photo %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	b, err := scanBalance(userID, s.db.QueryRowContext(ctx, `SELECT credits, unlimited, updated_at FROM user_credits WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.CreditBalance{UserID: userID}, nil
	}
	return b, err
}

func (s *Store) Debit(ctx context.Context, userID string, amount int) (*domain.CreditBalance, error) {
	if amount < 0 {
		return nil, fmt.Errorf("debit %d credits: amount must not be negative", amount)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_credits
		SET credits = CASE WHEN unlimited = 1 THEN credits ELSE credits - ? END,
		    updated_at = ?
		WHERE user_id = ? AND (unlimited = 1 OR credits >= ?)
	`, amount, nanos(time.Now().UTC()), userID, amount)
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrInsufficientCredits
	}
	return s.GetBalance(ctx, userID)
}

func (s *Store) Grant(ctx context.Context, userID string, amount int) (*domain.CreditBalance, error) {
	if amount < 0 {
		return nil, fmt.Errorf("grant %d credits: amount must not be negative", amount)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, credits, unlimited, updated_at) VALUES (?, ?, 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET credits = credits + excluded.credits, updated_at = excluded.updated_at
	`, userID, amount, nanos(time.Now().UTC())); err != nil {
		return nil, fmt.Errorf("grant %s: %w", userID, err)
	}
	return s.GetBalance(ctx, userID)
}

func (s *Store) SetUnlimited(ctx context.Context, userID string, unlimited bool) (*domain.CreditBalance, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, credits, unlimited, updated_at) VALUES (?, 0, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET unlimited = excluded.unlimited, updated_at = excluded.updated_at
	`, userID, boolInt(unlimited), nanos(time.Now().UTC())); err != nil {
		return nil, fmt.Errorf("set unlimited %s: %w", userID, err)
	}
	return s.GetBalance(ctx, userID)
}

func (s *Store) Record(ctx context.Context, a *domain.Attempt) error {
	if a == nil {
		return nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO photo_attempts (id, photo_id, attempt, caller, outcome, error_code,
		                            latency_ms, upstream_latency_ms, confidence, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.PhotoID, a.Attempt, a.Caller, string(a.Outcome), a.ErrorCode,
		a.Latency.Milliseconds(), a.UpstreamLatency.Milliseconds(), a.Confidence, a.Model, nanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.PhotoID, err)
	}
	return nil
}

func (s *Store) ListByPhoto(ctx context.Context, photoID string, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, photo_id, attempt, caller, outcome, error_code, latency_ms, upstream_latency_ms, confidence, model, created_at
		FROM photo_attempts WHERE photo_id = ? ORDER BY created_at DESC LIMIT ?
	`, photoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts %s: %w", photoID, err)
	}
	defer rows.Close()
	var out []domain.Attempt
	for rows.Next() {
		var (
			a                          domain.Attempt
			outcome                    string
			latency, upstream, created int64
		)
		if err := rows.Scan(&a.ID, &a.PhotoID, &a.Attempt, &a.Caller, &outcome, &a.ErrorCode, &latency, &upstream, &a.Confidence, &a.Model, &created); err != nil {
			return nil, err
		}
		a.Outcome = domain.PhotoStatus(outcome)
		a.Latency = time.Duration(latency) * time.Millisecond
		a.UpstreamLatency = time.Duration(upstream) * time.Millisecond
		a.CreatedAt = fromNanos(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) transition(ctx context.Context, id, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s photo %s: %w", op, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.conflictOrMissing(ctx, id, op)
	}
	return nil
}

func (s *Store) conflictOrMissing(ctx context.Context, id, op string) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s from %s: %w", op, id, current.Status, domain.ErrConflict)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]domain.Photo, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()
	var out []domain.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanBalance(userID string, row scanner) (*domain.CreditBalance, error) {
	var (
		b         = domain.CreditBalance{UserID: userID}
		unlimited int64
		updated   int64
	)
	if err := row.Scan(&b.Credits, &unlimited, &updated); err != nil {
		return nil, err
	}
	b.Unlimited = unlimited != 0
	b.UpdatedAt = fromNanos(updated)
	return &b, nil
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ domain.PhotoRepository   = (*Store)(nil)
	_ domain.CreditLedger      = (*Store)(nil)
	_ domain.AdmissionStore    = (*Store)(nil)
	_ domain.AttemptRepository = (*Store)(nil)
)
