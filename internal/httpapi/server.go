package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/offlinesync/internal/agent"
	"github.com/agentworkforce/offlinesync/internal/records"
)

// ControlPrefix is where the agent's own API lives. Every other path is the
// proxied application.
const ControlPrefix = "/_offline"

type ServerConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// SyncOnCapture starts a background sync after each captured record.
	SyncOnCapture bool
}

type Server struct {
	agent       *agent.Agent
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

func NewServer(a *agent.Agent) *Server {
	return NewServerWithConfig(a, ServerConfig{})
}

func NewServerWithConfig(a *agent.Agent, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
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
		agent:       a,
		cfg:         cfg,
		rateLimiter: limiter,
		now:         time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != ControlPrefix && !strings.HasPrefix(r.URL.Path, ControlPrefix+"/") {
		s.agent.Interceptor().ServeHTTP(w, r)
		return
	}
	correlationID := getCorrelationID(r)

	if r.URL.Path == ControlPrefix+"/health" && r.Method == http.MethodGet {
		s.handleHealth(w, r)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, ControlPrefix), "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	var route string
	switch {
	case len(parts) == 2 && parts[1] == "records" && r.Method == http.MethodPost:
		route = "create_record"
	case len(parts) == 2 && parts[1] == "records" && r.Method == http.MethodGet:
		route = "list_records"
	case len(parts) == 3 && parts[1] == "records" && r.Method == http.MethodGet:
		route = "get_record"
	case len(parts) == 3 && parts[1] == "records" && r.Method == http.MethodDelete:
		route = "delete_record"
	case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodPost:
		route = "sync"
	case len(parts) == 2 && parts[1] == "metrics" && r.Method == http.MethodGet:
		route = "metrics"
	case len(parts) == 2 && parts[1] == "bridge" && r.Method == http.MethodGet:
		s.agent.Bridge().ServeHTTP(w, r)
		return
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), s.now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch route {
	case "create_record":
		s.handleCreateRecord(w, r, correlationID)
	case "list_records":
		s.handleListRecords(w, r, correlationID)
	case "get_record":
		s.handleGetRecord(w, r, parts[2], correlationID)
	case "delete_record":
		s.handleDeleteRecord(w, r, parts[2], correlationID)
	case "sync":
		s.handleSync(w, r)
	case "metrics":
		writeJSON(w, http.StatusOK, s.agent.Metrics().Snapshot(s.now()))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.agent.Version(),
	}
	if pending, err := s.agent.Records().Count(r.Context()); err == nil {
		resp["pending"] = pending
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if err := records.ValidateJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record", err.Error(), correlationID)
		return
	}
	var draft records.Draft
	if err := json.Unmarshal(body, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	rec, err := s.agent.Records().Add(r.Context(), draft)
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	if s.cfg.SyncOnCapture {
		s.agent.TriggerSync(r.Context())
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request, correlationID string) {
	var (
		recs []records.Record
		err  error
	)
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		recs, err = s.agent.Records().ListByDate(r.Context(), date)
	} else {
		recs, err = s.agent.Records().GetAll(r.Context())
	}
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	if recs == nil {
		recs = []records.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "total": len(recs)})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request, rawID, correlationID string) {
	id, ok := parseRecordID(w, rawID, correlationID)
	if !ok {
		return
	}
	rec, err := s.agent.Records().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request, rawID, correlationID string) {
	id, ok := parseRecordID(w, rawID, correlationID)
	if !ok {
		return
	}
	store := s.agent.Records()
	if _, err := store.Get(r.Context(), id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	if err := store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result := s.agent.RequestSync(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func parseRecordID(w http.ResponseWriter, raw, correlationID string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "record id must be a positive integer", correlationID)
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found", correlationID)
	case errors.Is(err, records.ErrInvalidInput), errors.Is(err, records.ErrMissingID):
		writeError(w, http.StatusBadRequest, "invalid_record", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "record store unavailable", correlationID)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
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
