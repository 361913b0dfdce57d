// Package httpapi exposes a small local control surface for a running sync
// loop: health, status, a "sync now" trigger and a live event stream.
package httpapi

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/meetsync/internal/ledger"
	"github.com/agentworkforce/meetsync/internal/syncer"
)

type Ledger interface {
	Stats() ledger.Stats
	MetadataTime(key string) (time.Time, bool)
}

type Runs interface {
	LastResult() (syncer.Result, bool)
}

type Trigger interface {
	Request() bool
}

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// on every /v1 route.
	Token string
	// RateLimitMax caps POST /v1/sync per client per window. Zero disables it.
	RateLimitMax    int
	RateLimitWindow time.Duration
	Logger          Logger
}

type Server struct {
	ledger      Ledger
	runs        Runs
	trigger     Trigger
	events      http.Handler
	cfg         ServerConfig
	rateLimiter *rateLimiter
	now         func() time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Ledger       ledger.Stats   `json:"ledger"`
	LastPollTime *time.Time     `json:"lastPollTime,omitempty"`
	LastRun      *syncer.Result `json:"lastRun,omitempty"`
}

// NewServer wires the control API. events may be nil, in which case
// /v1/events answers 404.
func NewServer(l Ledger, runs Runs, trigger Trigger, events http.Handler, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		ledger:      l,
		runs:        runs,
		trigger:     trigger,
		events:      events,
		cfg:         cfg,
		rateLimiter: limiter,
		now:         time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	var handler func(http.ResponseWriter, *http.Request, string)
	switch {
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		handler = s.handleStatus
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		handler = s.handleSync
	case r.URL.Path == "/v1/events" && r.Method == http.MethodGet && s.events != nil:
		handler = s.handleEvents
	case r.URL.Path == "/v1/status" || r.URL.Path == "/v1/sync" || (r.URL.Path == "/v1/events" && s.events != nil):
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", correlationID)
		return
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if authErr := authorizeBearer(authHeader(r), s.cfg.Token); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	handler(w, r, correlationID)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ string) {
	resp := StatusResponse{Ledger: s.ledger.Stats()}
	if t, ok := s.ledger.MetadataTime(ledger.MetadataLastPollTime); ok {
		resp.LastPollTime = &t
	}
	if s.runs != nil {
		if last, ok := s.runs.LastResult(); ok {
			resp.LastRun = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), s.now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}
	queued := s.trigger.Request()
	s.logf("sync requested via control API (correlation %s, already pending: %t)", correlationID, !queued)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "queued",
		"alreadyQueued": !queued,
		"correlationId": correlationID,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ string) {
	s.events.ServeHTTP(w, r)
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

// getCorrelationID echoes the caller's id or mints one.
// authHeader returns the Authorization header. Browsers cannot set headers on
// a WebSocket handshake, so /v1/events also takes the token as access_token.
func authHeader(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" || r.URL.Path != "/v1/events" {
		return header
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return "Bearer " + token
	}
	return ""
}

func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
