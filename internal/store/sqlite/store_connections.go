package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// InsertConnectionReconciling closes any record for rec's (profile, ip4, ip6)
// triple that is still open, marking it lost with a disconnect instant equal
// to rec's connect instant, then inserts rec as the new open record. Both
// steps run in one transaction so concurrent connects for a reused address
// cannot each observe "no open record". Returns how many stale records were
// reconciled.
func (s *Store) InsertConnectionReconciling(ctx context.Context, rec domain.ConnectionRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE connections
SET disconnected_at = ?, lost = 1
WHERE profile = ? AND ip4 = ? AND ip6 = ? AND disconnected_at IS NULL`,
		nanos(rec.ConnectedAt), rec.Profile, rec.IP4, rec.IP6)
	if err != nil {
		return 0, err
	}
	reconciled, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO connections(id, profile, common_name, ip4, ip6, connected_at, disconnected_at, bytes_transferred, lost)
VALUES(?, ?, ?, ?, ?, ?, NULL, 0, 0)`,
		rec.ID, rec.Profile, rec.CommonName, rec.IP4, rec.IP6, nanos(rec.ConnectedAt)); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return reconciled, nil
}

// CloseConnection sets the closing fields of the open record matching the
// full tuple. Zero matched rows is not an error: the record may already have
// been reconciled away or the notification may be a duplicate.
func (s *Store) CloseConnection(ctx context.Context, profile, commonName, ip4, ip6 string, connectedAt, disconnectedAt time.Time, bytes int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE connections
SET disconnected_at = ?, bytes_transferred = ?
WHERE profile = ? AND common_name = ? AND ip4 = ? AND ip6 = ? AND connected_at = ? AND disconnected_at IS NULL`,
		nanos(disconnectedAt), bytes, profile, commonName, ip4, ip6, nanos(connectedAt))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindCovering returns every record whose address equals ip and whose
// interval contains at: connected strictly before, and either still open or
// disconnected strictly after. More than one result is a ledger invariant
// violation; the ledger layer decides how loudly to surface that.
func (s *Store) FindCovering(ctx context.Context, ip string, at time.Time) ([]domain.ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, profile, common_name, ip4, ip6, connected_at, disconnected_at, bytes_transferred, lost
FROM connections
WHERE (ip4 = ? OR ip6 = ?)
  AND connected_at < ?
  AND (disconnected_at IS NULL OR disconnected_at > ?)
ORDER BY connected_at`, ip, ip, nanos(at), nanos(at))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HasOpenConnection reports whether any of the given common names has an
// open ledger record anywhere in the fleet.
func (s *Store) HasOpenConnection(ctx context.Context, commonNames []string) (bool, error) {
	if len(commonNames) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(commonNames)), ",")
	args := make([]any, len(commonNames))
	for i, cn := range commonNames {
		args[i] = cn
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1
FROM connections
WHERE common_name IN (`+placeholders+`) AND disconnected_at IS NULL
LIMIT 1`, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PurgeClosedBefore deletes closed records whose connect instant is earlier
// than horizon. Open records are never purged regardless of age.
func (s *Store) PurgeClosedBefore(ctx context.Context, horizon time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM connections
WHERE disconnected_at IS NOT NULL AND connected_at < ?`, nanos(horizon))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListConnectionsForCommonName returns a common name's ledger history, newest
// first. Used by the ops API for per-identity history queries.
func (s *Store) ListConnectionsForCommonName(ctx context.Context, commonName string, limit int) ([]domain.ConnectionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, profile, common_name, ip4, ip6, connected_at, disconnected_at, bytes_transferred, lost
FROM connections
WHERE common_name = ?
ORDER BY connected_at DESC
LIMIT ?`, commonName, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanConnection(rows *sql.Rows) (domain.ConnectionRecord, error) {
	var rec domain.ConnectionRecord
	var connected int64
	var disconnected sql.NullInt64
	var lost int
	if err := rows.Scan(&rec.ID, &rec.Profile, &rec.CommonName, &rec.IP4, &rec.IP6,
		&connected, &disconnected, &rec.BytesTransferred, &lost); err != nil {
		return domain.ConnectionRecord{}, err
	}
	rec.ConnectedAt = fromNanos(connected)
	if disconnected.Valid {
		t := fromNanos(disconnected.Int64)
		rec.DisconnectedAt = &t
	}
	rec.Lost = lost != 0
	return rec, nil
}
