package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Backup writes a consistent copy of the cache to path, replacing any file
// already there. The copy is built next to path and renamed into place.
func (s *SQLiteStore) Backup(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create backup directory")
		}
	}

	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale backup")
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return errors.Wrap(err, "vacuum into backup")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "move backup into place")
	}
	return nil
}
