package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/types"
)

const pendingColumns = `collection, record_id, payload, is_delete, base_version, base_payload,
	local_version, attempt_count, last_attempt_at, token, sent, failed`

func putPending(ctx context.Context, ex execer, pw types.PendingWrite) error {
	payload, err := encodePayload(pw.Payload)
	if err != nil {
		return err
	}
	base, err := encodePayload(pw.BasePayload)
	if err != nil {
		return err
	}
	var lastAttempt sql.NullString
	if !pw.LastAttemptAt.IsZero() {
		lastAttempt = sql.NullString{String: formatTime(pw.LastAttemptAt), Valid: true}
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO pending_writes (`+pendingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, record_id) DO UPDATE SET
			payload = excluded.payload,
			is_delete = excluded.is_delete,
			base_version = excluded.base_version,
			base_payload = excluded.base_payload,
			local_version = excluded.local_version,
			attempt_count = excluded.attempt_count,
			last_attempt_at = excluded.last_attempt_at,
			token = excluded.token,
			sent = excluded.sent,
			failed = excluded.failed`,
		pw.Collection, pw.RecordID, payload, boolInt(pw.Delete), pw.BaseVersion, base,
		pw.LocalVersion, pw.AttemptCount, lastAttempt, pw.Token, boolInt(pw.Sent), boolInt(pw.Failed))
	if err != nil {
		return errors.Wrapf(err, "put pending write %s/%s", pw.Collection, pw.RecordID)
	}
	return nil
}

func deletePending(ctx context.Context, ex execer, c types.Collection, id string) error {
	_, err := ex.ExecContext(ctx,
		`DELETE FROM pending_writes WHERE collection = ? AND record_id = ?`, c, id)
	if err != nil {
		return errors.Wrapf(err, "delete pending write %s/%s", c, id)
	}
	return nil
}

func scanPending(row rowScanner) (types.PendingWrite, error) {
	var (
		pw                      types.PendingWrite
		payload, base, lastSeen sql.NullString
		isDelete, sent, failed  int
	)
	err := row.Scan(&pw.Collection, &pw.RecordID, &payload, &isDelete, &pw.BaseVersion, &base,
		&pw.LocalVersion, &pw.AttemptCount, &lastSeen, &pw.Token, &sent, &failed)
	if err != nil {
		return types.PendingWrite{}, err
	}
	if pw.Payload, err = decodePayload(payload); err != nil {
		return types.PendingWrite{}, err
	}
	if pw.BasePayload, err = decodePayload(base); err != nil {
		return types.PendingWrite{}, err
	}
	if lastSeen.Valid {
		pw.LastAttemptAt = parseTime(lastSeen.String)
	}
	pw.Delete = isDelete != 0
	pw.Sent = sent != 0
	pw.Failed = failed != 0
	return pw, nil
}

// GetPending returns the pending write for a key.
func (s *SQLiteStore) GetPending(ctx context.Context, c types.Collection, id string) (types.PendingWrite, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_writes WHERE collection = ? AND record_id = ?`, c, id)
	pw, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PendingWrite{}, false, nil
	}
	if err != nil {
		return types.PendingWrite{}, false, errors.Wrapf(err, "get pending write %s/%s", c, id)
	}
	return pw, true, nil
}

// ListPending returns the pending writes of a collection, or of every
// collection when c is empty.
func (s *SQLiteStore) ListPending(ctx context.Context, c types.Collection) ([]types.PendingWrite, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_writes`
	var args []any
	if c != "" {
		query += ` WHERE collection = ?`
		args = append(args, c)
	}
	query += ` ORDER BY collection, record_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query pending writes")
	}
	defer rows.Close()

	out := make([]types.PendingWrite, 0)
	for rows.Next() {
		pw, err := scanPending(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan pending write")
		}
		out = append(out, pw)
	}
	return out, rows.Err()
}

// PutPending replaces the pending write for its key.
func (s *SQLiteStore) PutPending(ctx context.Context, pw types.PendingWrite) error {
	return putPending(ctx, s.db, pw)
}

// DeletePending drops the pending write for a key, if any.
func (s *SQLiteStore) DeletePending(ctx context.Context, c types.Collection, id string) error {
	return deletePending(ctx, s.db, c, id)
}
