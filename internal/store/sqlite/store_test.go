package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "vpnfleet.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "path", "vpnfleet.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file to exist at %s: %v", dbPath, err)
	}
}

func TestGetOrCreateAccountLazyCreation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	acc, err := store.GetOrCreateAccount(ctx, "alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Identity != "alice" || acc.Disabled || acc.Federated {
		t.Fatalf("unexpected new account: %+v", acc)
	}
	if acc.SessionExpires != nil {
		t.Fatal("expected no session expiry on a new account")
	}
	if !acc.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %s, got %s", now, acc.CreatedAt)
	}

	// Second reference returns the same row, not a new one.
	later := now.Add(time.Hour)
	again, err := store.GetOrCreateAccount(ctx, "alice", later)
	if err != nil {
		t.Fatal(err)
	}
	if !again.CreatedAt.Equal(now) {
		t.Fatal("expected existing account to keep its creation instant")
	}
}

func TestGetOrCreateAccountFederatedClassification(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	acc, err := store.GetOrCreateAccount(ctx, "partner::alice", now)
	if err != nil {
		t.Fatal(err)
	}
	if !acc.Federated {
		t.Fatal("expected federated classification for delimited identity")
	}
}

func TestUpdateAccount(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateAccount(ctx, "bob", now); err != nil {
		t.Fatal(err)
	}
	expires := now.Add(24 * time.Hour)
	err := store.UpdateAccount(ctx, domain.Account{
		Identity:       "bob",
		Disabled:       true,
		Permissions:    []string{"vpn-staff", "vpn-lab"},
		SessionExpires: &expires,
	})
	if err != nil {
		t.Fatal(err)
	}

	acc, err := store.GetAccount(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !acc.Disabled {
		t.Fatal("expected disabled flag to persist")
	}
	if len(acc.Permissions) != 2 || acc.Permissions[0] != "vpn-staff" {
		t.Fatalf("unexpected permissions: %v", acc.Permissions)
	}
	if acc.SessionExpires == nil || !acc.SessionExpires.Equal(expires) {
		t.Fatalf("unexpected session expiry: %v", acc.SessionExpires)
	}

	if err := store.UpdateAccount(ctx, domain.Account{Identity: "missing"}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for unknown account, got %v", err)
	}
}

func TestCertBindingUpsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	b := domain.CertBinding{
		CommonName: "alice-laptop",
		AccountID:  "alice",
		ValidFrom:  now,
		ValidUntil: now.AddDate(1, 0, 0),
		IssuedBy:   "ca-admin",
	}
	if err := store.PutCertBinding(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetCertBindingByCommonName(ctx, "alice-laptop")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccountID != "alice" || !got.ValidUntil.Equal(b.ValidUntil) {
		t.Fatalf("unexpected binding: %+v", got)
	}

	// Reissue to another account: the unique common name is re-pointed.
	b.AccountID = "mallory"
	if err := store.PutCertBinding(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetCertBindingByCommonName(ctx, "alice-laptop")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccountID != "mallory" {
		t.Fatalf("expected upsert to re-point binding, got %q", got.AccountID)
	}

	if _, err := store.GetCertBindingByCommonName(ctx, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}

	cns, err := store.ListCommonNamesForAccount(ctx, "mallory")
	if err != nil {
		t.Fatal(err)
	}
	if len(cns) != 1 || cns[0] != "alice-laptop" {
		t.Fatalf("unexpected common names: %v", cns)
	}
}

func TestNotifications(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.AddNotification(ctx, "alice", "[CONNECT] ERROR: session has expired, please renew it", base); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddNotification(ctx, "alice", "[CONNECT] ERROR: account is disabled", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddNotification(ctx, "bob", "[CONNECT] ERROR: account is disabled", base); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListNotifications(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	k, err := store.CreateAPIKey(ctx, "ops", "hash-1", now)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.ResolveAPIKeyID(ctx, "hash-1")
	if err != nil {
		t.Fatal(err)
	}
	if id != k.ID {
		t.Fatalf("expected id %s, got %s", k.ID, id)
	}

	if err := store.RevokeAPIKey(ctx, k.ID, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ResolveAPIKeyID(ctx, "hash-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected revoked key not to resolve, got %v", err)
	}
	if err := store.RevokeAPIKey(ctx, k.ID, now); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected double revoke to return ErrNoRows, got %v", err)
	}

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].RevokedAt == nil {
		t.Fatalf("unexpected key list: %+v", keys)
	}
}
