// Package authz implements the connection authorization pipeline. A decision
// is a pure function over current store state; recording the outcome and
// mutating the ledger are the caller's responsibility.
package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// Store is the read surface the engine needs. The sqlite store satisfies it.
type Store interface {
	GetCertBindingByCommonName(ctx context.Context, commonName string) (domain.CertBinding, error)
	GetOrCreateAccount(ctx context.Context, identity string, now time.Time) (domain.Account, error)
	ListCommonNamesForAccount(ctx context.Context, accountID string) ([]string, error)
	HasOpenConnection(ctx context.Context, commonNames []string) (bool, error)
}

// Engine evaluates connect attempts against account, session, and ACL state.
type Engine struct {
	store Store
}

// New returns an engine reading from store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Authorize gates a connect attempt for commonName on profile at the given
// instant. Checks run in a fixed order and the first failing check wins,
// because the order determines which diagnostic the user sees:
//
//  1. unknown certificate (no account to notify)
//  2. session expiry, skipped for federated accounts
//  3. account disabled
//  4. an open connection already exists for the account
//  5. profile ACL intersection
func (e *Engine) Authorize(ctx context.Context, profile domain.Profile, commonName string, now time.Time) (domain.Decision, error) {
	binding, err := e.store.GetCertBindingByCommonName(ctx, commonName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Deny(domain.DenyUnknownCertificate, ""), nil
	}
	if err != nil {
		return domain.Decision{}, fmt.Errorf("resolve certificate %q: %w", commonName, err)
	}

	acc, err := e.store.GetOrCreateAccount(ctx, binding.AccountID, now)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load account %q: %w", binding.AccountID, err)
	}

	if !acc.Federated && !sessionValid(acc, now) {
		return domain.Deny(domain.DenySessionExpired, acc.Identity), nil
	}
	if acc.Disabled {
		return domain.Deny(domain.DenyAccountDisabled, acc.Identity), nil
	}

	commonNames, err := e.store.ListCommonNamesForAccount(ctx, acc.Identity)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("list bindings for %q: %w", acc.Identity, err)
	}
	open, err := e.store.HasOpenConnection(ctx, commonNames)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("check open connections for %q: %w", acc.Identity, err)
	}
	if open {
		return domain.Deny(domain.DenyAlreadyConnected, acc.Identity), nil
	}

	if profile.ACL && !intersects(acc.Permissions, profile.Permissions) {
		return domain.Deny(domain.DenyACLForbidden, acc.Identity), nil
	}

	return domain.Allow(acc.Identity), nil
}

// sessionValid reports whether the account's session expiry lies strictly in
// the future. An account with no provisioned session is treated as expired.
func sessionValid(acc domain.Account, now time.Time) bool {
	return acc.SessionExpires != nil && acc.SessionExpires.After(now)
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
