// Package ledger maintains the authoritative connect/disconnect history. It
// owns the reconciliation algorithm that retires stale open records when a
// termination process dies without reporting disconnects.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// Store is the persistence surface the ledger needs. The sqlite store
// satisfies it.
type Store interface {
	InsertConnectionReconciling(ctx context.Context, rec domain.ConnectionRecord) (int64, error)
	CloseConnection(ctx context.Context, profile, commonName, ip4, ip6 string, connectedAt, disconnectedAt time.Time, bytes int64) (int64, error)
	FindCovering(ctx context.Context, ip string, at time.Time) ([]domain.ConnectionRecord, error)
	PurgeClosedBefore(ctx context.Context, horizon time.Time) (int64, error)
}

// Ledger serializes mutations per (profile, ip4, ip6) so that concurrent
// connect notifications for a reused address cannot both pass the stale-record
// check, and a disconnect cannot race a reconciliation on the same triple.
type Ledger struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*tripleLock
}

type tripleLock struct {
	mu   sync.Mutex
	refs int
}

// New returns a ledger persisting through store.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   logger,
		locks: make(map[string]*tripleLock),
	}
}

// lockTriple acquires the serialization boundary for one address triple and
// returns its release func. Locks are created on demand and dropped once the
// last holder releases, so the map stays bounded by in-flight mutations.
func (l *Ledger) lockTriple(profile, ip4, ip6 string) func() {
	key := profile + "\x00" + ip4 + "\x00" + ip6

	l.mu.Lock()
	tl, ok := l.locks[key]
	if !ok {
		tl = &tripleLock{}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// RecordConnect inserts a new open record for a validated connect attempt.
// Any record still open for the same (profile, ip4, ip6) is first closed with
// disconnected-at equal to this connect instant and the lost flag set: the
// address pool reassigning the address is the only signal that the previous
// holder's process died without reporting a disconnect. The operation is
// idempotent with respect to the at-most-one-open invariant no matter how
// many prior crashes occurred for the address.
func (l *Ledger) RecordConnect(ctx context.Context, profile, commonName, ip4, ip6 string, at time.Time) (domain.ConnectionRecord, error) {
	unlock := l.lockTriple(profile, ip4, ip6)
	defer unlock()

	rec := domain.ConnectionRecord{
		ID:          uuid.NewString(),
		Profile:     profile,
		CommonName:  commonName,
		IP4:         ip4,
		IP6:         ip6,
		ConnectedAt: at.UTC(),
	}
	reconciled, err := l.store.InsertConnectionReconciling(ctx, rec)
	if err != nil {
		return domain.ConnectionRecord{}, fmt.Errorf("record connect: %w", err)
	}
	if reconciled > 0 {
		l.log.Warn("reconciled stale open connection on address reuse",
			"profile", profile, "ip4", ip4, "ip6", ip6, "count", reconciled)
	}
	return rec, nil
}

// RecordDisconnect closes the record matching the full tuple. A disconnect
// that matches nothing is a success, not an error: the record may already
// have been reconciled away by a later connect, or the notification may be a
// duplicate. Callers cannot distinguish "already closed" from "never
// existed"; both are deliberate tolerances.
func (l *Ledger) RecordDisconnect(ctx context.Context, profile, commonName, ip4, ip6 string, connectedAt, disconnectedAt time.Time, bytes int64) error {
	unlock := l.lockTriple(profile, ip4, ip6)
	defer unlock()

	n, err := l.store.CloseConnection(ctx, profile, commonName, ip4, ip6, connectedAt, disconnectedAt, bytes)
	if err != nil {
		return fmt.Errorf("record disconnect: %w", err)
	}
	if n == 0 {
		l.log.Debug("disconnect matched no open record",
			"profile", profile, "common_name", commonName, "ip4", ip4, "ip6", ip6)
	}
	return nil
}

// FindCovering returns the record, if any, whose address equals ip and whose
// interval contains the instant. More than one covering record means the
// at-most-one-open invariant was violated in storage; that is surfaced as a
// [domain.ConsistencyError], never silently resolved.
func (l *Ledger) FindCovering(ctx context.Context, ip string, at time.Time) (*domain.ConnectionRecord, error) {
	recs, err := l.store.FindCovering(ctx, ip, at)
	if err != nil {
		return nil, fmt.Errorf("find covering: %w", err)
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		rec := recs[0]
		return &rec, nil
	default:
		return nil, &domain.ConsistencyError{IP: ip, At: at, Records: len(recs)}
	}
}

// PurgeClosedBefore removes closed records whose connect instant predates the
// horizon. Open records survive regardless of age.
func (l *Ledger) PurgeClosedBefore(ctx context.Context, horizon time.Time) (int64, error) {
	n, err := l.store.PurgeClosedBefore(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("purge closed records: %w", err)
	}
	return n, nil
}
