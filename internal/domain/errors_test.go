package domain

import (
	"errors"
	"testing"
	"time"
)

func TestEndpointErrorMessage(t *testing.T) {
	t.Parallel()

	err := &EndpointError{Endpoint: "10.0.0.1:11940", Op: "list sessions", Err: errors.New("connection refused")}
	want := "endpoint 10.0.0.1:11940: list sessions: connection refused"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEndpointErrorWithoutEndpoint(t *testing.T) {
	t.Parallel()

	err := &EndpointError{Op: "dial", Err: ErrEndpointRange}
	want := "dial: endpoint out of addressable range"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEndpointErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &EndpointError{Endpoint: "x", Op: "dial", Err: ErrEndpointRange}
	if !errors.Is(err, ErrEndpointRange) {
		t.Fatal("expected errors.Is to match ErrEndpointRange")
	}
}

func TestConsistencyErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &ConsistencyError{IP: "10.8.0.5", At: time.Unix(1700000000, 0), Records: 2}
	if !errors.Is(err, ErrConsistency) {
		t.Fatal("expected errors.Is to match ErrConsistency")
	}
}

func TestIsFederatedIdentity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		identity string
		want     bool
	}{
		{"alice", false},
		{"partner::alice", true},
		{"::guest", true},
		{"alice:bob", false},
	}
	for _, tc := range cases {
		if got := IsFederatedIdentity(tc.identity); got != tc.want {
			t.Fatalf("IsFederatedIdentity(%q) = %v, want %v", tc.identity, got, tc.want)
		}
	}
}

func TestDenyReasonMessages(t *testing.T) {
	t.Parallel()

	reasons := []DenyReason{
		DenyUnknownCertificate,
		DenySessionExpired,
		DenyAccountDisabled,
		DenyAlreadyConnected,
		DenyACLForbidden,
	}
	seen := map[string]DenyReason{}
	for _, r := range reasons {
		msg := r.Message()
		if msg == "" || msg == string(r) {
			t.Fatalf("reason %s has no message", r)
		}
		if prev, dup := seen[msg]; dup {
			t.Fatalf("reasons %s and %s share message %q", prev, r, msg)
		}
		seen[msg] = r
	}
}
