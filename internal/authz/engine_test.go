package authz

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
	"github.com/koltyakov/vpnfleet/internal/store/sqlite"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store  *sqlite.Store
	engine *Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "authz.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return fixture{store: store, engine: New(store)}
}

// seedAccount creates the account through its binding the way production
// does, then applies the given mutations.
func (f fixture) seedAccount(t *testing.T, ctx context.Context, identity, commonName string, mutate func(*domain.Account)) {
	t.Helper()
	err := f.store.PutCertBinding(ctx, domain.CertBinding{
		CommonName: commonName,
		AccountID:  identity,
		ValidFrom:  testNow.AddDate(0, -1, 0),
		ValidUntil: testNow.AddDate(1, 0, 0),
		IssuedBy:   "ca-admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	acc, err := f.store.GetOrCreateAccount(ctx, identity, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		mutate(&acc)
		if err := f.store.UpdateAccount(ctx, acc); err != nil {
			t.Fatal(err)
		}
	}
}

func validSession(acc *domain.Account) {
	expires := testNow.Add(24 * time.Hour)
	acc.SessionExpires = &expires
}

func TestAuthorizeUnknownCertificate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d, err := f.engine.Authorize(context.Background(), domain.Profile{Name: "staff", Number: 1}, "ghost", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != domain.DenyUnknownCertificate {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Account != "" {
		t.Fatalf("expected no account on unknown certificate, got %q", d.Account)
	}
}

func TestAuthorizeAllow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "alice", "alice-laptop", validSession)

	d, err := f.engine.Authorize(ctx, domain.Profile{Name: "staff", Number: 1}, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	if d.Account != "alice" {
		t.Fatalf("expected resolved account, got %q", d.Account)
	}
}

func TestAuthorizeSessionExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "alice", "alice-laptop", func(acc *domain.Account) {
		expired := testNow.Add(-time.Minute)
		acc.SessionExpires = &expired
	})

	d, err := f.engine.Authorize(ctx, domain.Profile{Name: "staff", Number: 1}, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != domain.DenySessionExpired || d.Account != "alice" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAuthorizeNoSessionProvisionedIsExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "alice", "alice-laptop", nil)

	d, err := f.engine.Authorize(ctx, domain.Profile{Name: "staff", Number: 1}, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != domain.DenySessionExpired {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAuthorizeExpiryPrecedesDisabled(t *testing.T) {
	t.Parallel()

	// An account that is both expired and disabled must surface the expiry,
	// because the expiry check runs first.
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "alice", "alice-laptop", func(acc *domain.Account) {
		expired := testNow.Add(-time.Minute)
		acc.SessionExpires = &expired
		acc.Disabled = true
	})

	d, err := f.engine.Authorize(ctx, domain.Profile{Name: "staff", Number: 1}, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != domain.DenySessionExpired {
		t.Fatalf("expected SessionExpired to win, got %+v", d)
	}
}

func TestAuthorizeFederatedSkipsExpiry(t *testing.T) {
	t.Parallel()

	// Federated accounts have no session expiry check, but every later check
	// still applies: a disabled federated account is denied as disabled.
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "partner::alice", "partner-alice-laptop", func(acc *domain.Account) {
		acc.Disabled = true
	})

	d, err := f.engine.Authorize(ctx, domain.Profile{Name: "staff", Number: 1}, "partner-alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != domain.DenyAccountDisabled {
		t.Fatalf("expected AccountDisabled (expiry skipped), got %+v", d)
	}
}

func TestAuthorizeAlreadyConnectedAcrossBindings(t *testing.T) {
	t.Parallel()

	// The single-active-session policy spans all of an account's bindings: an
	// open record under one common name blocks connects under another.
	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "alice", "alice-laptop", validSession)
	err := f.store.PutCertBinding(ctx, domain.CertBinding{
		CommonName: "alice-phone",
		AccountID:  "alice",
		ValidFrom:  testNow.AddDate(0, -1, 0),
		ValidUntil: testNow.AddDate(1, 0, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.store.InsertConnectionReconciling(ctx, domain.ConnectionRecord{
		ID:          "c-1",
		Profile:     "staff",
		CommonName:  "alice-laptop",
		IP4:         "10.8.0.2",
		IP6:         "fd00::2",
		ConnectedAt: testNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := f.engine.Authorize(ctx, domain.Profile{Name: "staff", Number: 1}, "alice-phone", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != domain.DenyAlreadyConnected {
		t.Fatalf("expected AlreadyConnected, got %+v", d)
	}
}

func TestAuthorizeACL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedAccount(t, ctx, "alice", "alice-laptop", func(acc *domain.Account) {
		validSession(acc)
		acc.Permissions = []string{"vpn-lab"}
	})

	acl := domain.Profile{Name: "staff", Number: 1, ACL: true, Permissions: []string{"vpn-staff"}}
	d, err := f.engine.Authorize(ctx, acl, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != domain.DenyACLForbidden {
		t.Fatalf("expected AclForbidden, got %+v", d)
	}

	// Any overlap passes.
	acl.Permissions = []string{"vpn-staff", "vpn-lab"}
	d, err = f.engine.Authorize(ctx, acl, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("expected allow on intersecting permissions, got %+v", d)
	}

	// Without ACL the permission set is irrelevant.
	open := domain.Profile{Name: "open", Number: 2}
	d, err = f.engine.Authorize(ctx, open, "alice-laptop", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("expected allow on profile without acl, got %+v", d)
	}
}
