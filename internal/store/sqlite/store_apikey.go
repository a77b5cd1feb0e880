package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// APIKey is an ops API credential record. Only the hash is stored.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// CreateAPIKey stores a new key hash under a human-readable name.
func (s *Store) CreateAPIKey(ctx context.Context, name, keyHash string, now time.Time) (APIKey, error) {
	k := APIKey{
		ID:        "k_" + uuid.NewString(),
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: now.UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys(id, name, key_hash, created_at, revoked_at)
VALUES(?, ?, ?, ?, NULL)`, k.ID, k.Name, k.KeyHash, nanos(k.CreatedAt))
	return k, err
}

// ResolveAPIKeyID maps a key hash to its ID; revoked keys do not resolve.
// Unknown hashes surface as [sql.ErrNoRows].
func (s *Store) ResolveAPIKeyID(ctx context.Context, keyHash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
SELECT id FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL`, keyHash).Scan(&id)
	return id, err
}

// ListAPIKeys returns all keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, key_hash, created_at, revoked_at
FROM api_keys
ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		var created int64
		var revoked sql.NullInt64
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &created, &revoked); err != nil {
			return nil, err
		}
		k.CreatedAt = fromNanos(created)
		if revoked.Valid {
			t := fromNanos(revoked.Int64)
			k.RevokedAt = &t
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RevokeAPIKey marks a key revoked. Revoking an unknown or already revoked
// key returns [sql.ErrNoRows].
func (s *Store) RevokeAPIKey(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, nanos(now), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
