package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrEndpointRange indicates a (profile, process) pair outside the
	// addressable range. It is a fatal misconfiguration, never retried.
	ErrEndpointRange = errors.New("endpoint out of addressable range")

	// ErrConsistency indicates the ledger holds overlapping records for one
	// address, which the documented reconcile-on-connect path should have
	// made impossible.
	ErrConsistency = errors.New("ledger consistency violation")

	// ErrProfileUnknown means an event referenced a profile that is not in
	// the fleet configuration.
	ErrProfileUnknown = errors.New("unknown profile")
)

// EndpointError attributes a fleet operation failure to a single endpoint.
// It never aborts the surrounding fan-out.
type EndpointError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *EndpointError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("endpoint %s: %s: %v", e.Endpoint, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports overlapping ledger records covering one address at
// one instant. It wraps [ErrConsistency].
type ConsistencyError struct {
	IP      string
	At      time.Time
	Records int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%d overlapping records cover %s at %s", e.Records, e.IP, e.At.UTC().Format(time.RFC3339))
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistency
}
