// Package outbox is the device-local durable log of captured notifications.
package outbox

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const table = "captured_notifications"

var recordColumns = []string{
	"id", "package_name", "title", "body", "android_user_id", "posted_at_ms",
	"captured_at_ms", "status", "attempts", "last_error", "updated_at_ms", "failure_kind",
}

type Store struct {
	db  *sql.DB
	qb  sq.StatementBuilderType
	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and applies
// pending migrations. All access goes through one connection, so writes are
// serialized.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)

	return &Store{
		db:  db,
		qb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends a record in PENDING state and returns its id. A zero
// CapturedAtEpochMs is stamped with the current time.
func (s *Store) Insert(ctx context.Context, rec CapturedRecord) (int64, error) {
	now := s.now()
	if rec.CapturedAtEpochMs == 0 {
		rec.CapturedAtEpochMs = now.UnixMilli()
	}

	var userID any
	if rec.AndroidUserID != nil {
		userID = *rec.AndroidUserID
	}

	query, args, err := s.qb.Insert(table).
		Columns("package_name", "title", "body", "android_user_id", "posted_at_ms",
			"captured_at_ms", "status", "attempts", "last_error", "updated_at_ms").
		Values(rec.PackageName, rec.Title, rec.Body, userID, rec.PostedAtEpochMs,
			rec.CapturedAtEpochMs, StatusPending, 0, "", now.UnixMilli()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert captured notification: %w", err)
	}
	return res.LastInsertId()
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id int64) (*CapturedRecord, error) {
	recs, err := s.query(ctx, s.qb.Select(recordColumns...).From(table).Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// Pending returns PENDING records in ascending capture order. limit <= 0
// means no limit.
func (s *Store) Pending(ctx context.Context, limit int) ([]CapturedRecord, error) {
	b := s.qb.Select(recordColumns...).From(table).
		Where(sq.Eq{"status": StatusPending}).
		OrderBy("captured_at_ms ASC", "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.query(ctx, b)
}

// List returns the most recent records first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]CapturedRecord, error) {
	b := s.qb.Select(recordColumns...).From(table).OrderBy("captured_at_ms DESC", "id DESC")
	if status != "" {
		b = b.Where(sq.Eq{"status": status})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.query(ctx, b)
}

// Transition moves one record from one status to another as a single
// compare-and-set update. Leaving PENDING counts as a delivery attempt.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status, lastErr string) error {
	return s.transition(ctx, id, from, to, lastErr, FailureNone)
}

// Fail moves a PENDING record to FAILED and records why.
func (s *Store) Fail(ctx context.Context, id int64, kind FailureKind, lastErr string) error {
	return s.transition(ctx, id, StatusPending, StatusFailed, lastErr, kind)
}

func (s *Store) transition(ctx context.Context, id int64, from, to Status, lastErr string, kind FailureKind) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to != StatusFailed {
		kind = FailureNone
	}

	b := s.qb.Update(table).
		Set("status", to).
		Set("last_error", lastErr).
		Set("failure_kind", kind).
		Set("updated_at_ms", s.now().UnixMilli()).
		Where(sq.Eq{"id": id, "status": from})
	if from == StatusPending {
		b = b.Set("attempts", sq.Expr("attempts + 1"))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: record %d is not %s", ErrStaleStatus, id, from)
}

// ResetFailed moves every FAILED record back to PENDING and returns how many
// moved. Rows are updated in place, never copied.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	return s.requeue(ctx, sq.Eq{"status": StatusFailed})
}

// RequeueDeliveryFailures moves FAILED records whose last failure was a
// delivery failure back to PENDING. Classifier rejections stay FAILED.
func (s *Store) RequeueDeliveryFailures(ctx context.Context) (int64, error) {
	return s.requeue(ctx, sq.Eq{"status": StatusFailed, "failure_kind": FailureDelivery})
}

func (s *Store) requeue(ctx context.Context, where sq.Eq) (int64, error) {
	query, args, err := s.qb.Update(table).
		Set("status", StatusPending).
		Set("failure_kind", FailureNone).
		Set("updated_at_ms", s.now().UnixMilli()).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset failed records: %w", err)
	}
	return res.RowsAffected()
}

// Trim keeps the most recent keep records, by capture time, and deletes the
// rest whatever their status. keep <= 0 disables trimming.
func (s *Store) Trim(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	query, args, err := s.qb.Delete(table).
		Where(sq.Expr("id NOT IN (SELECT id FROM "+table+" ORDER BY captured_at_ms DESC, id DESC LIMIT ?)", keep)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build trim: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("trim outbox: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns the number of records per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int64, error) {
	query, args, err := s.qb.Select("status", "COUNT(*)").From(table).GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build counts: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	out := map[Status]int64{StatusPending: 0, StatusSent: 0, StatusFailed: 0}
	for rows.Next() {
		var st Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, b sq.SelectBuilder) ([]CapturedRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []CapturedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (CapturedRecord, error) {
	var (
		rec       CapturedRecord
		userID    sql.NullInt64
		updatedMs int64
	)
	err := rows.Scan(&rec.ID, &rec.PackageName, &rec.Title, &rec.Body, &userID, &rec.PostedAtEpochMs,
		&rec.CapturedAtEpochMs, &rec.Status, &rec.Attempts, &rec.LastError, &updatedMs, &rec.FailureKind)
	if err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}
	if userID.Valid {
		v := int(userID.Int64)
		rec.AndroidUserID = &v
	}
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return rec, nil
}
