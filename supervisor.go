package ssevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(cfg Config) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Supervisor
// ============================================================================

// Supervisor is the invocation lifecycle for a long-lived process. It starts
// a new attempt at most once per AttemptInterval and backs off exponentially
// after failed attempts. Only one attempt is ever open at a time.
type Supervisor struct {
	client  *Client
	limiter *rate.Limiter
	recon   *reconnector
	logger  *slog.Logger

	mu        sync.Mutex
	last      *Summary
	attempts  int
	onAttempt []func(*Summary, error)
}

// NewSupervisor wraps client.
func NewSupervisor(client *Client) *Supervisor {
	cfg := client.cfg
	cfg.defaults()
	return &Supervisor{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.AttemptInterval), 1),
		recon:   newReconnector(cfg),
		logger:  client.logger,
	}
}

// OnAttempt registers a callback invoked after every attempt.
func (s *Supervisor) OnAttempt(h func(*Summary, error)) {
	s.mu.Lock()
	s.onAttempt = append(s.onAttempt, h)
	s.mu.Unlock()
}

// Last returns the summary of the most recent attempt, or nil.
func (s *Supervisor) Last() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Attempts returns how many attempts have completed.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Run loops until ctx is cancelled, a ConfigError occurs, or
// MaxReconnectAttempts consecutive attempts fail.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		summary, err := s.client.Run(ctx)
		s.record(summary, err)
		if ctx.Err() != nil {
			return nil
		}

		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		if err == nil {
			s.recon.reset()
			continue
		}

		if !s.recon.shouldReconnect() {
			return fmt.Errorf("giving up after %d failed attempts: %w", s.recon.attempt, err)
		}
		delay := s.recon.nextDelay()
		s.logger.Info("reconnecting", slog.Int("attempt", s.recon.attempt), slog.Duration("delay", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Supervisor) record(summary *Summary, err error) {
	s.mu.Lock()
	s.last = summary
	s.attempts++
	handlers := append([]func(*Summary, error){}, s.onAttempt...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(summary, err)
	}
}
