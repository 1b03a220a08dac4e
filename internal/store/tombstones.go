package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/types"
)

func putTombstone(ctx context.Context, ex execer, c types.Collection, id string, version int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO tombstones (collection, record_id, version, removed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, record_id) DO UPDATE SET
			version = MAX(tombstones.version, excluded.version),
			removed_at = excluded.removed_at`,
		c, id, version, formatTime(time.Now()))
	if err != nil {
		return errors.Wrapf(err, "tombstone %s/%s", c, id)
	}
	return nil
}

// GetTombstone reports whether a key was removed, and at which remote version.
func (s *SQLiteStore) GetTombstone(ctx context.Context, c types.Collection, id string) (int64, bool, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM tombstones WHERE collection = ? AND record_id = ?`, c, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "get tombstone %s/%s", c, id)
	}
	return version, true, nil
}

// Tombstone marks a key as removed at version. The stored version never
// decreases.
func (s *SQLiteStore) Tombstone(ctx context.Context, c types.Collection, id string, version int64) error {
	return putTombstone(ctx, s.db, c, id, version)
}

// ClearTombstone forgets a removal.
func (s *SQLiteStore) ClearTombstone(ctx context.Context, c types.Collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tombstones WHERE collection = ? AND record_id = ?`, c, id)
	if err != nil {
		return errors.Wrapf(err, "clear tombstone %s/%s", c, id)
	}
	return nil
}
