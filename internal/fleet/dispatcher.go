package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koltyakov/vpnfleet/internal/domain"
	"github.com/koltyakov/vpnfleet/internal/mgmt"
)

// target is one resolved termination process.
type target struct {
	profile domain.Profile
	process int
	addr    string
}

// ProfileConnections groups the live sessions of one termination process.
type ProfileConnections struct {
	Profile  string                  `json:"profile"`
	Process  int                     `json:"process"`
	Endpoint string                  `json:"endpoint"`
	Sessions []domain.ProcessSession `json:"sessions"`
}

// Dispatcher fans control commands out across every termination process of
// every profile. Failures never abort a sweep: each unreachable or failing
// endpoint is reported alongside the results from the rest of the fleet.
type Dispatcher struct {
	host     string
	profiles []domain.Profile
	dial     mgmt.Dialer
	timeout  time.Duration
	limit    int
	log      *slog.Logger
}

// NewDispatcher builds a dispatcher over the configured profiles. timeout
// bounds each endpoint conversation, limit caps concurrent endpoint dials.
func NewDispatcher(host string, profiles []domain.Profile, dial mgmt.Dialer, timeout time.Duration, limit int, log *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	return &Dispatcher{
		host:     host,
		profiles: profiles,
		dial:     dial,
		timeout:  timeout,
		limit:    limit,
		log:      log,
	}
}

// targets resolves every endpoint address up front so a misconfigured
// profile fails the whole sweep before any dial happens.
func (d *Dispatcher) targets() ([]target, error) {
	var out []target
	for _, p := range d.profiles {
		for i := 0; i < p.Processes; i++ {
			addr, err := Endpoint(d.host, p.Number, i)
			if err != nil {
				return nil, fmt.Errorf("profile %s process %d: %w", p.Name, i, err)
			}
			out = append(out, target{profile: p, process: i, addr: addr})
		}
	}
	return out, nil
}

// withChannel dials tgt, runs fn, and closes the channel. The per-endpoint
// timeout covers the dial and the whole conversation.
func (d *Dispatcher) withChannel(ctx context.Context, tgt target, op string, fn func(ctx context.Context, ch mgmt.Channel) error) *domain.EndpointError {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch, err := d.dial(ctx, tgt.addr)
	if err != nil {
		return &domain.EndpointError{Endpoint: tgt.addr, Op: op, Err: err}
	}
	defer func() { _ = ch.Close() }()

	if err := fn(ctx, ch); err != nil {
		return &domain.EndpointError{Endpoint: tgt.addr, Op: op, Err: err}
	}
	return nil
}

// ListAllConnections sweeps the fleet and collects live sessions per
// process. Results keep the profile/process order of the configuration
// regardless of which endpoint answered first.
func (d *Dispatcher) ListAllConnections(ctx context.Context) ([]ProfileConnections, []*domain.EndpointError, error) {
	targets, err := d.targets()
	if err != nil {
		return nil, nil, err
	}

	results := make([]ProfileConnections, len(targets))
	failures := make([]*domain.EndpointError, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for i, tgt := range targets {
		i, tgt := i, tgt
		g.Go(func() error {
			results[i] = ProfileConnections{
				Profile:  tgt.profile.Name,
				Process:  tgt.process,
				Endpoint: tgt.addr,
			}
			failures[i] = d.withChannel(gctx, tgt, "status", func(ctx context.Context, ch mgmt.Channel) error {
				sessions, err := ch.ListSessions(ctx)
				if err != nil {
					return err
				}
				results[i].Sessions = sessions
				return nil
			})
			return nil
		})
	}
	_ = g.Wait()

	ok, errs := d.collect(results, failures, "status")
	return ok, errs, nil
}

// KillByIdentity terminates every session the common name holds anywhere in
// the fleet and returns the total killed. Endpoints that cannot be reached
// are reported; sessions they may hold stay up.
func (d *Dispatcher) KillByIdentity(ctx context.Context, commonName string) (int, []*domain.EndpointError, error) {
	targets, err := d.targets()
	if err != nil {
		return 0, nil, err
	}

	killed := make([]int, len(targets))
	failures := make([]*domain.EndpointError, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for i, tgt := range targets {
		i, tgt := i, tgt
		g.Go(func() error {
			failures[i] = d.withChannel(gctx, tgt, "kill", func(ctx context.Context, ch mgmt.Channel) error {
				n, err := ch.KillSession(ctx, commonName)
				if err != nil {
					return err
				}
				killed[i] = n
				return nil
			})
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range killed {
		total += n
	}
	var errs []*domain.EndpointError
	for _, f := range failures {
		if f != nil {
			d.log.Warn("endpoint unreachable", "op", "kill", "endpoint", f.Endpoint, "err", f.Err)
			errs = append(errs, f)
		}
	}
	return total, errs, nil
}

// collect splits per-target outcomes into reachable results and failures.
func (d *Dispatcher) collect(results []ProfileConnections, failures []*domain.EndpointError, op string) ([]ProfileConnections, []*domain.EndpointError) {
	ok := make([]ProfileConnections, 0, len(results))
	var errs []*domain.EndpointError
	for i := range results {
		if failures[i] != nil {
			d.log.Warn("endpoint unreachable", "op", op, "endpoint", failures[i].Endpoint, "err", failures[i].Err)
			errs = append(errs, failures[i])
			continue
		}
		ok = append(ok, results[i])
	}
	return ok, errs
}
