// Package ratelimitapi exposes the Rate Gate over HTTP for demo and manual
// testing purposes, the same role etalazz-vsa's internal/ratelimiter/api
// package plays for the VSA store: a thin HTTP front end over the core
// admission primitive, not a production call site (real call sites wrap
// their outbound third-party API call directly with gate.WithAcquire).
package ratelimitapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/harperio/admitcore/internal/rategate"
)

// Server handles /acquire and /release over the shared Gate.
type Server struct {
	gate    *rategate.Gate
	limits  rategate.Limits
	maxWait time.Duration

	mu      chan struct{}
	leases  map[string]*rategate.Lease
}

// NewServer configures a demo Server. maxWait bounds how long /acquire will
// block before returning 429.
func NewServer(gate *rategate.Gate, limits rategate.Limits, maxWait time.Duration) *Server {
	return &Server{gate: gate, limits: limits, maxWait: maxWait, mu: make(chan struct{}, 1), leases: map[string]*rategate.Lease{}}
}

// RegisterRoutes wires /acquire, /release, and /stats onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/acquire", s.handleAcquire)
	mux.HandleFunc("/release", s.handleRelease)
	mux.HandleFunc("/stats", s.handleStats)
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	apiType := r.URL.Query().Get("api_type")
	if apiType == "" {
		apiType = "default"
	}
	filename := r.URL.Query().Get("filename")

	lease, err := s.gate.Acquire(r.Context(), apiType, filename, s.limits, s.maxWait)
	if err != nil {
		w.Header().Set("Retry-After", "5")
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	token := s.store(lease)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"lease_token": token})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("lease_token")
	lease := s.take(token)
	if lease == nil {
		http.Error(w, "unknown lease_token", http.StatusNotFound)
		return
	}
	lease.Release(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.gate.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// store/take implement a tiny token table guarded by a 1-buffered channel
// mutex, matching the teacher's preference for small concurrency primitives
// over importing a cache library for a demo surface this size.
func (s *Server) store(lease *rategate.Lease) string {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()
	token := randomToken()
	s.leases[token] = lease
	return token
}

func (s *Server) take(token string) *rategate.Lease {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()
	lease := s.leases[token]
	delete(s.leases, token)
	return lease
}
