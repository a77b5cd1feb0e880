package fleet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

func TestPortKnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		profile, process, want int
	}{
		{1, 0, 11940},
		{1, 1, 11941},
		{1, 63, 12003},
		{2, 0, 12004},
		{3, 0, 12068},
		{3, 1, 12069},
		{64, 63, 11940 + 64*64 - 1},
	}
	for _, tc := range tests {
		got, err := Port(tc.profile, tc.process)
		if err != nil {
			t.Errorf("Port(%d, %d): %v", tc.profile, tc.process, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Port(%d, %d) = %d, want %d", tc.profile, tc.process, got, tc.want)
		}
	}
}

func TestPortInjective(t *testing.T) {
	t.Parallel()

	seen := make(map[int]string, 64*64)
	for profile := 1; profile <= 64; profile++ {
		for process := 0; process < 64; process++ {
			port, err := Port(profile, process)
			if err != nil {
				t.Fatalf("Port(%d, %d): %v", profile, process, err)
			}
			key := fmt.Sprintf("%d/%d", profile, process)
			if prev, dup := seen[port]; dup {
				t.Fatalf("port %d assigned to both %s and %s", port, prev, key)
			}
			seen[port] = key
		}
	}
	if len(seen) != 64*64 {
		t.Fatalf("got %d distinct ports, want %d", len(seen), 64*64)
	}
}

func TestPortRange(t *testing.T) {
	t.Parallel()

	bad := []struct{ profile, process int }{
		{0, 0},
		{-1, 0},
		{65, 0},
		{1, -1},
		{1, 64},
	}
	for _, tc := range bad {
		_, err := Port(tc.profile, tc.process)
		if !errors.Is(err, domain.ErrEndpointRange) {
			t.Errorf("Port(%d, %d) = %v, want ErrEndpointRange", tc.profile, tc.process, err)
		}
	}
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	got, err := Endpoint("127.0.0.1", 3, 1)
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if got != "127.0.0.1:12069" {
		t.Errorf("Endpoint = %q, want 127.0.0.1:12069", got)
	}

	got, err = Endpoint("::1", 1, 0)
	if err != nil {
		t.Fatalf("Endpoint v6: %v", err)
	}
	if got != "[::1]:11940" {
		t.Errorf("Endpoint v6 = %q, want [::1]:11940", got)
	}

	if _, err := Endpoint("127.0.0.1", 0, 0); !errors.Is(err, domain.ErrEndpointRange) {
		t.Errorf("expected ErrEndpointRange, got %v", err)
	}
}
