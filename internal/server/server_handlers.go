package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
	"github.com/koltyakov/vpnfleet/internal/fleet"
)

const maxEventBody = 64 * 1024

type connectRequest struct {
	Profile    string    `json:"profile"`
	CommonName string    `json:"common_name"`
	IP4        string    `json:"ip4,omitempty"`
	IP6        string    `json:"ip6,omitempty"`
	At         time.Time `json:"at"`
}

type connectResponse struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	RecordID    string    `json:"record_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

type disconnectRequest struct {
	Profile        string    `json:"profile"`
	CommonName     string    `json:"common_name"`
	IP4            string    `json:"ip4,omitempty"`
	IP6            string    `json:"ip6,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
	DisconnectedAt time.Time `json:"disconnected_at"`
	Bytes          int64     `json:"bytes"`
}

// handleConnect runs a connect attempt through the authorization pipeline
// and, when allowed, opens a ledger record. A denial is reported back to the
// termination process and recorded as a notification for the account.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req connectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CommonName == "" {
		http.Error(w, "common_name is required", http.StatusBadRequest)
		return
	}
	profile, err := s.profileByName(req.Profile)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	decision, err := s.engine.Authorize(r.Context(), profile, req.CommonName, at)
	if err != nil {
		s.log.Error("authorization failed", "common_name", req.CommonName, "profile", profile.Name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !decision.Allowed {
		s.log.Info("connect denied", "common_name", req.CommonName, "profile", profile.Name, "reason", decision.Reason)
		if decision.Account != "" {
			text := "[CONNECT] ERROR: " + decision.Reason.Message()
			if _, err := s.store.AddNotification(r.Context(), decision.Account, text, at); err != nil {
				s.log.Error("failed to record notification", "account", decision.Account, "err", err)
			}
		}
		s.feed.publish(event{Kind: "connect_denied", At: at, Profile: profile.Name, CommonName: req.CommonName, Detail: string(decision.Reason)})
		writeJSON(w, http.StatusForbidden, connectResponse{
			Allowed: false,
			Reason:  string(decision.Reason),
			Message: decision.Reason.Message(),
		})
		return
	}

	rec, err := s.ledger.RecordConnect(r.Context(), profile.Name, req.CommonName, req.IP4, req.IP6, at)
	if err != nil {
		s.log.Error("failed to open ledger record", "common_name", req.CommonName, "profile", profile.Name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.feed.publish(event{Kind: "connect", At: at, Profile: profile.Name, CommonName: req.CommonName})
	writeJSON(w, http.StatusOK, connectResponse{
		Allowed:     true,
		RecordID:    rec.ID,
		ConnectedAt: rec.ConnectedAt,
	})
}

// handleDisconnect closes the ledger record matching the full connection
// tuple. A tuple no record matches is acknowledged anyway; disconnect intake
// must stay idempotent across process retries.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req disconnectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CommonName == "" || req.ConnectedAt.IsZero() {
		http.Error(w, "common_name and connected_at are required", http.StatusBadRequest)
		return
	}
	if _, err := s.profileByName(req.Profile); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	at := req.DisconnectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	err := s.ledger.RecordDisconnect(r.Context(), req.Profile, req.CommonName, req.IP4, req.IP6, req.ConnectedAt, at, req.Bytes)
	if err != nil {
		s.log.Error("failed to close ledger record", "common_name", req.CommonName, "profile", req.Profile, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.feed.publish(event{Kind: "disconnect", At: at, Profile: req.Profile, CommonName: req.CommonName})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionsResponse struct {
	Processes []fleet.ProfileConnections `json:"processes"`
	Failures  []endpointFailure          `json:"failures,omitempty"`
}

type endpointFailure struct {
	Endpoint string `json:"endpoint"`
	Op       string `json:"op"`
	Error    string `json:"error"`
}

func toFailures(errs []*domain.EndpointError) []endpointFailure {
	if len(errs) == 0 {
		return nil
	}
	out := make([]endpointFailure, 0, len(errs))
	for _, e := range errs {
		out = append(out, endpointFailure{Endpoint: e.Endpoint, Op: e.Op, Error: e.Err.Error()})
	}
	return out
}

// handleSessions sweeps the whole fleet and returns live sessions per
// process, with unreachable endpoints reported alongside.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	processes, failures, err := s.dispatcher.ListAllConnections(r.Context())
	if err != nil {
		s.log.Error("fleet sweep failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Processes: processes, Failures: toFailures(failures)})
}

type killRequest struct {
	CommonName string `json:"common_name"`
}

type killResponse struct {
	Killed   int               `json:"killed"`
	Failures []endpointFailure `json:"failures,omitempty"`
}

// handleKill terminates every live session of one identity, fleet-wide.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req killRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.CommonName) == "" {
		http.Error(w, "common_name is required", http.StatusBadRequest)
		return
	}
	killed, failures, err := s.dispatcher.KillByIdentity(r.Context(), req.CommonName)
	if err != nil {
		s.log.Error("fleet kill failed", "common_name", req.CommonName, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Info("kill dispatched", "common_name", req.CommonName, "killed", killed, "failed_endpoints", len(failures))
	s.feed.publish(event{Kind: "kill", At: time.Now().UTC(), CommonName: req.CommonName, Detail: strconv.Itoa(killed)})
	writeJSON(w, http.StatusOK, killResponse{Killed: killed, Failures: toFailures(failures)})
}

type auditResponse struct {
	RecordID       string     `json:"record_id"`
	Profile        string     `json:"profile"`
	CommonName     string     `json:"common_name"`
	IP4            string     `json:"ip4,omitempty"`
	IP6            string     `json:"ip6,omitempty"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	Lost           bool       `json:"lost,omitempty"`
}

// handleAudit answers "who held this address at this instant". Exactly one
// ledger record may cover the query; none is a 404, more than one means the
// ledger is corrupt and the query must not guess.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	if ip == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}
	at := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "at must be RFC 3339", http.StatusBadRequest)
			return
		}
		at = parsed
	}

	rec, err := s.ledger.FindCovering(r.Context(), ip, at)
	if err != nil {
		if errors.Is(err, domain.ErrConsistency) {
			s.log.Error("ledger consistency violation", "ip", ip, "at", at, "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		s.log.Error("audit lookup failed", "ip", ip, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "no connection covered this address at this instant", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{
		RecordID:       rec.ID,
		Profile:        rec.Profile,
		CommonName:     rec.CommonName,
		IP4:            rec.IP4,
		IP6:            rec.IP6,
		ConnectedAt:    rec.ConnectedAt,
		DisconnectedAt: rec.DisconnectedAt,
		Lost:           rec.Lost,
	})
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// handleNotifications lists the stored messages for one account, newest
// first.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	notifications, err := s.store.ListNotifications(r.Context(), account, limit)
	if err != nil {
		s.log.Error("failed to list notifications", "account", account, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, notificationResponse{ID: n.ID, Text: n.Text, CreatedAt: n.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
