package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// GetOrCreateAccount returns the account for identity, creating it on first
// reference. A created account is enabled, has no permissions and no session
// expiry, and is classified federated from the identity's naming convention.
func (s *Store) GetOrCreateAccount(ctx context.Context, identity string, now time.Time) (domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	acc, err := scanAccount(tx.QueryRowContext(ctx, `
SELECT identity, disabled, permissions, session_expires_at, federated, created_at
FROM accounts
WHERE identity = ?`, identity))
	if err == nil {
		if err = tx.Commit(); err != nil {
			return domain.Account{}, err
		}
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, err
	}

	acc = domain.Account{
		Identity:  identity,
		Federated: domain.IsFederatedIdentity(identity),
		CreatedAt: now.UTC(),
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO accounts(identity, disabled, permissions, session_expires_at, federated, created_at)
VALUES(?, 0, '', NULL, ?, ?)`, acc.Identity, boolToInt(acc.Federated), nanos(acc.CreatedAt)); err != nil {
		return domain.Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return acc, nil
}

// GetAccount fetches an account without creating it. Missing accounts
// surface as [sql.ErrNoRows].
func (s *Store) GetAccount(ctx context.Context, identity string) (domain.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
SELECT identity, disabled, permissions, session_expires_at, federated, created_at
FROM accounts
WHERE identity = ?`, identity))
}

// UpdateAccount overwrites the mutable account fields: disabled flag,
// permission set, and session expiry. The federated classification is fixed
// at creation and not touched.
func (s *Store) UpdateAccount(ctx context.Context, acc domain.Account) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE accounts
SET disabled = ?, permissions = ?, session_expires_at = ?
WHERE identity = ?`,
		boolToInt(acc.Disabled), joinPermissions(acc.Permissions), nullableNanos(acc.SessionExpires), acc.Identity)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var acc domain.Account
	var disabled, federated int
	var perms string
	var expires sql.NullInt64
	var created int64
	if err := row.Scan(&acc.Identity, &disabled, &perms, &expires, &federated, &created); err != nil {
		return domain.Account{}, err
	}
	acc.Disabled = disabled != 0
	acc.Federated = federated != 0
	acc.Permissions = splitPermissions(perms)
	if expires.Valid {
		t := fromNanos(expires.Int64)
		acc.SessionExpires = &t
	}
	acc.CreatedAt = fromNanos(created)
	return acc, nil
}

// PutCertBinding inserts or replaces the binding for its common name. Common
// names are globally unique, so an upsert re-points the binding when a
// certificate is reissued to another account.
func (s *Store) PutCertBinding(ctx context.Context, b domain.CertBinding) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cert_bindings(common_name, account_id, valid_from, valid_until, issued_by)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(common_name) DO UPDATE SET
	account_id = excluded.account_id,
	valid_from = excluded.valid_from,
	valid_until = excluded.valid_until,
	issued_by = excluded.issued_by`,
		b.CommonName, b.AccountID, nanos(b.ValidFrom), nanos(b.ValidUntil), b.IssuedBy)
	return err
}

// GetCertBindingByCommonName resolves a common name to its binding. A missing
// binding surfaces as [sql.ErrNoRows].
func (s *Store) GetCertBindingByCommonName(ctx context.Context, commonName string) (domain.CertBinding, error) {
	var b domain.CertBinding
	var from, until int64
	err := s.db.QueryRowContext(ctx, `
SELECT common_name, account_id, valid_from, valid_until, issued_by
FROM cert_bindings
WHERE common_name = ?`, commonName).Scan(&b.CommonName, &b.AccountID, &from, &until, &b.IssuedBy)
	if err != nil {
		return domain.CertBinding{}, err
	}
	b.ValidFrom = fromNanos(from)
	b.ValidUntil = fromNanos(until)
	return b, nil
}

// ListCommonNamesForAccount returns every common name bound to the account.
func (s *Store) ListCommonNamesForAccount(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT common_name
FROM cert_bindings
WHERE account_id = ?
ORDER BY common_name`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var cn string
		if err := rows.Scan(&cn); err != nil {
			return nil, err
		}
		out = append(out, cn)
	}
	return out, rows.Err()
}
