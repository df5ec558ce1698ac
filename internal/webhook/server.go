// Copyright 2025 The Previewd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	previewv1alpha1 "github.com/mikelane/previewd/api/v1alpha1"
	"github.com/mikelane/previewd/internal/dispatch"
	"github.com/mikelane/previewd/internal/metrics"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 30 * time.Second
)

// Dispatcher starts the workflow for a request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *previewv1alpha1.EnvironmentRequest) error
}

// Server handles environment request events
type Server struct {
	addr          string
	dispatcher    Dispatcher
	webhookSecret string
	server        *http.Server
	rateLimiter   *RateLimiter
}

// RateLimit configures the per-environment token bucket.
type RateLimit struct {
	// Rate is the sustained number of requests per second
	Rate rate.Limit
	// Burst is the bucket size
	Burst int
}

// DefaultRateLimit allows a short burst and then one request every ten seconds per environment.
func DefaultRateLimit() RateLimit {
	return RateLimit{Rate: rate.Every(10 * time.Second), Burst: 5}
}

// sweepInterval is the minimum time between two passes dropping idle limiters.
const sweepInterval = time.Minute

// RateLimiter provides per-environment rate limiting. Limiters whose bucket
// has refilled are dropped, since a fresh limiter behaves the same.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     RateLimit
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     limit,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow checks if a request for the given environment should be allowed
func (rl *RateLimiter) Allow(name string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepInterval {
		rl.sweep(now)
	}

	l, exists := rl.limiters[name]
	if !exists {
		l = rate.NewLimiter(rl.limit.Rate, rl.limit.Burst)
		rl.limiters[name] = l
	}
	return l.AllowN(now, 1)
}

func (rl *RateLimiter) sweep(now time.Time) {
	for name, l := range rl.limiters {
		if l.TokensAt(now) >= float64(rl.limit.Burst) {
			delete(rl.limiters, name)
		}
	}
	rl.lastSweep = now
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// NewServer creates a new event server. An empty secret disables signature checks.
func NewServer(addr string, d Dispatcher, webhookSecret string, limit RateLimit) *Server {
	return &Server{
		addr:          addr,
		dispatcher:    d,
		webhookSecret: webhookSecret,
		rateLimiter:   NewRateLimiter(limit),
	}
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvent)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start starts the server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	logger := log.FromContext(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting event server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// NeedLeaderElection lets every replica accept events.
func (s *Server) NeedLeaderElection() bool {
	return false
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.FromContext(ctx).Info("Shutting down event server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck,gosec
}

// handleEvent validates and dispatches an environment request
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	if r.Method != http.MethodPost {
		s.reply(w, http.StatusMethodNotAllowed, eventResponse{Status: statusRejected, Error: "method not allowed"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Error(err, "Failed to read request body")
		s.reply(w, http.StatusBadRequest, eventResponse{Status: statusRejected, Error: "failed to read body"})
		return
	}
	defer r.Body.Close() //nolint:errcheck

	if s.webhookSecret != "" && !ValidateSignature(payload, r.Header.Get(SignatureHeader), s.webhookSecret) {
		logger.Info("Invalid request signature")
		s.reply(w, http.StatusUnauthorized, eventResponse{Status: statusRejected, Error: "invalid signature"})
		return
	}

	req, err := previewv1alpha1.ParseRequest(payload)
	if err != nil {
		logger.Error(err, "Failed to parse JSON payload")
		s.reply(w, http.StatusBadRequest, eventResponse{Status: statusRejected, Error: "invalid JSON"})
		return
	}

	resp := eventResponse{Name: req.Name, Action: string(req.Action)}

	// Names the dispatcher rejects anyway do not get a limiter.
	if validation.IsDNS1123Label(req.Name) == nil && !s.rateLimiter.Allow(req.Name) {
		logger.Info("Rate limit exceeded", "environment", req.Name)
		resp.Status, resp.Error = statusRejected, "too many requests"
		s.reply(w, http.StatusTooManyRequests, resp)
		return
	}

	if err := s.dispatcher.Dispatch(r.Context(), req); err != nil {
		resp.Status, resp.Error = statusRejected, err.Error()
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			s.reply(w, http.StatusBadRequest, resp)
			return
		}
		s.reply(w, http.StatusInternalServerError, resp)
		return
	}

	resp.Status = statusAccepted
	s.reply(w, http.StatusAccepted, resp)
}

func (s *Server) reply(w http.ResponseWriter, code int, resp eventResponse) {
	metrics.EventsTotal.WithLabelValues(strconv.Itoa(code)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp) //nolint:errcheck,gosec
}
