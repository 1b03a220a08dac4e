package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/types"
)

const recordColumns = `collection, id, version, payload, dirty, updated_at`

const upsertRecordSQL = `
	INSERT INTO records (collection, id, version, payload, dirty, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		version = excluded.version,
		payload = excluded.payload,
		dirty = excluded.dirty,
		updated_at = excluded.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (types.Record, error) {
	var (
		rec       types.Record
		payload   sql.NullString
		dirty     int
		updatedAt string
	)
	if err := row.Scan(&rec.Collection, &rec.ID, &rec.Version, &payload, &dirty, &updatedAt); err != nil {
		return types.Record{}, err
	}
	p, err := decodePayload(payload)
	if err != nil {
		return types.Record{}, errors.Wrapf(err, "decode record %s/%s", rec.Collection, rec.ID)
	}
	rec.Payload = p
	rec.Dirty = dirty != 0
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func putRecord(ctx context.Context, ex execer, rec types.Record) error {
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err = ex.ExecContext(ctx, upsertRecordSQL,
		rec.Collection, rec.ID, rec.Version, payload, boolInt(rec.Dirty), formatTime(rec.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "put record %s/%s", rec.Collection, rec.ID)
	}
	return nil
}

// Get returns the cached record for a key.
func (s *SQLiteStore) Get(ctx context.Context, c types.Collection, id string) (types.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection = ? AND id = ?`, c, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, false, nil
	}
	if err != nil {
		return types.Record{}, false, errors.Wrapf(err, "get record %s/%s", c, id)
	}
	return rec, true, nil
}

// Put writes a record. Writing the same record twice leaves the same state.
func (s *SQLiteStore) Put(ctx context.Context, rec types.Record) error {
	return putRecord(ctx, s.db, rec)
}

// Delete removes a record and any pending write for it.
func (s *SQLiteStore) Delete(ctx context.Context, c types.Collection, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, c, id); err != nil {
			return errors.Wrapf(err, "delete record %s/%s", c, id)
		}
		return deletePending(ctx, tx, c, id)
	})
}

// List returns every cached record of a collection ordered by id.
func (s *SQLiteStore) List(ctx context.Context, c types.Collection) ([]types.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection = ? ORDER BY id`, c)
}

// ListDirty returns the records of a collection carrying an unacknowledged
// local edit. Each call reads a fresh snapshot.
func (s *SQLiteStore) ListDirty(ctx context.Context, c types.Collection) ([]types.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection = ? AND dirty = 1 ORDER BY id`, c)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	defer rows.Close()

	records := make([]types.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkClean clears the dirty marker after the remote acknowledged
// ackedVersion, and drops the pending write for the key.
func (s *SQLiteStore) MarkClean(ctx context.Context, c types.Collection, id string, ackedVersion int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE records SET dirty = 0, version = MAX(version, ?), updated_at = ?
			WHERE collection = ? AND id = ?`,
			ackedVersion, formatTime(time.Now()), c, id)
		if err != nil {
			return errors.Wrapf(err, "mark clean %s/%s", c, id)
		}
		return deletePending(ctx, tx, c, id)
	})
}

// StageEdit stores a tentative record value together with its pending write.
func (s *SQLiteStore) StageEdit(ctx context.Context, rec types.Record, pw types.PendingWrite) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := putRecord(ctx, tx, rec); err != nil {
			return err
		}
		return putPending(ctx, tx, pw)
	})
}

// StageDelete removes the cached value, records the pending delete and
// tombstones the key.
func (s *SQLiteStore) StageDelete(ctx context.Context, pw types.PendingWrite) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE collection = ? AND id = ?`, pw.Collection, pw.RecordID); err != nil {
			return errors.Wrapf(err, "delete record %s/%s", pw.Collection, pw.RecordID)
		}
		if err := putPending(ctx, tx, pw); err != nil {
			return err
		}
		return putTombstone(ctx, tx, pw.Collection, pw.RecordID, pw.BaseVersion)
	})
}

// ApplyRemote makes an authoritative remote change the cached state of its
// key. Any pending write for the key is discarded. A removal tombstones the
// key; an addition or update clears an older tombstone.
func (s *SQLiteStore) ApplyRemote(ctx context.Context, ev types.ChangeEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deletePending(ctx, tx, ev.Collection, ev.RecordID); err != nil {
			return err
		}
		if ev.Kind == types.EventRemoved {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE collection = ? AND id = ?`, ev.Collection, ev.RecordID); err != nil {
				return errors.Wrapf(err, "remove record %s/%s", ev.Collection, ev.RecordID)
			}
			return putTombstone(ctx, tx, ev.Collection, ev.RecordID, ev.RemoteVersion)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tombstones WHERE collection = ? AND record_id = ?`, ev.Collection, ev.RecordID); err != nil {
			return errors.Wrapf(err, "clear tombstone %s/%s", ev.Collection, ev.RecordID)
		}
		return putRecord(ctx, tx, types.Record{
			Collection: ev.Collection,
			ID:         ev.RecordID,
			Version:    ev.RemoteVersion,
			Payload:    ev.Payload,
		})
	})
}
