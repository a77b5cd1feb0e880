// Package server exposes the control-plane ops API: connection event intake,
// fleet-wide session listing and kill, ledger audit lookups, and account
// notifications.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/koltyakov/vpnfleet/internal/auth"
	"github.com/koltyakov/vpnfleet/internal/authz"
	"github.com/koltyakov/vpnfleet/internal/config"
	"github.com/koltyakov/vpnfleet/internal/domain"
	"github.com/koltyakov/vpnfleet/internal/fleet"
	"github.com/koltyakov/vpnfleet/internal/ledger"
	"github.com/koltyakov/vpnfleet/internal/store/sqlite"
)

type Server struct {
	cfg        config.Server
	store      *sqlite.Store
	ledger     *ledger.Ledger
	engine     *authz.Engine
	dispatcher *fleet.Dispatcher
	profiles   map[string]domain.Profile
	log        *slog.Logger
	feed       *feed
}

type errorResponse struct {
	Error string `json:"error"`
}

// New wires the authorization engine and connection ledger over the store
// and prepares the ops API. profiles and dispatcher come from the same
// fleet configuration so names and endpoints agree.
func New(cfg config.Server, store *sqlite.Store, profiles []domain.Profile, dispatcher *fleet.Dispatcher, logger *slog.Logger) *Server {
	byName := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		ledger:     ledger.New(store, logger),
		engine:     authz.New(store),
		dispatcher: dispatcher,
		profiles:   byName,
		log:        logger,
		feed:       newFeed(logger),
	}
}

// Handler builds the ops API routing table. Split out of Run so tests can
// drive it through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/connect", s.authed(s.handleConnect))
	mux.HandleFunc("/v1/events/disconnect", s.authed(s.handleDisconnect))
	mux.HandleFunc("/v1/events/feed", s.authed(s.handleEventFeed))
	mux.HandleFunc("/v1/sessions", s.authed(s.handleSessions))
	mux.HandleFunc("/v1/kill", s.authed(s.handleKill))
	mux.HandleFunc("/v1/audit", s.authed(s.handleAudit))
	mux.HandleFunc("/v1/notifications", s.authed(s.handleNotifications))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	go s.runJanitor(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	switch s.cfg.TLSMode {
	case config.TLSModeStatic:
		go func() {
			s.log.Info("starting ops API", "addr", s.cfg.Listen, "tls", "static")
			if err := srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops api: %w", err)
			}
		}()
	case config.TLSModeAuto:
		manager := &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.CertCacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLSHosts...),
		}
		srv.TLSConfig = manager.TLSConfig()
		go func() {
			s.log.Info("starting ops API", "addr", s.cfg.Listen, "tls", "auto", "hosts", strings.Join(s.cfg.TLSHosts, ","))
			if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops api: %w", err)
			}
		}()
	default:
		go func() {
			s.log.Info("starting ops API", "addr", s.cfg.Listen, "tls", "off")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops api: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.feed.closeAll()
		return shutdownServer(srv, 5*time.Second)
	case err := <-errCh:
		s.feed.closeAll()
		_ = shutdownServer(srv, 5*time.Second)
		return err
	}
}

// profileByName resolves an event's profile against the fleet configuration.
func (s *Server) profileByName(name string) (domain.Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: %q", domain.ErrProfileUnknown, name)
	}
	return p, nil
}

// authed requires a valid bearer API key on every ops endpoint.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) authenticate(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	key := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if key == "" {
		return false
	}
	h := auth.HashAPIKey(key, s.cfg.APIKeyPepper)
	if _, err := s.store.ResolveAPIKeyID(r.Context(), h); err != nil {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
