package outbox

import (
	"context"
	"fmt"
)

const packagesTable = "monitored_packages"

// MonitoredPackages returns the persisted allowlist, sorted. An empty result
// means no sync has happened yet.
func (s *Store) MonitoredPackages(ctx context.Context) ([]string, error) {
	query, args, err := s.qb.Select("package_name").From(packagesTable).OrderBy("package_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query monitored packages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceMonitoredPackages swaps the persisted allowlist in one transaction.
func (s *Store) ReplaceMonitoredPackages(ctx context.Context, packages []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+packagesTable); err != nil {
		return fmt.Errorf("clear monitored packages: %w", err)
	}

	if len(packages) > 0 {
		now := s.now().UnixMilli()
		b := s.qb.Insert(packagesTable).Columns("package_name", "synced_at_ms").Suffix("ON CONFLICT (package_name) DO NOTHING")
		for _, p := range packages {
			b = b.Values(p, now)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert monitored packages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
