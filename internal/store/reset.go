package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// Reset empties the cache. Records, queued writes, tombstones and sync
// metadata are dropped together; the next subscription repopulates it.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"records", "pending_writes", "tombstones", "sync_meta"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return errors.Wrapf(err, "reset %s", table)
			}
		}
		return nil
	})
}
