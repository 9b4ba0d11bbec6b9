package ssevents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// answeringDialer returns fake channels that acknowledge every subscribe.
func answeringDialer(dials *atomic.Int32) func(context.Context, Config, *http.Client) (Channel, error) {
	return func(context.Context, Config, *http.Client) (Channel, error) {
		dials.Add(1)
		ch := newFakeChannel()
		go func() {
			for {
				select {
				case data := <-ch.out:
					var req struct {
						Method string          `json:"method"`
						ID     json.RawMessage `json:"id"`
					}
					if json.Unmarshal(data, &req) == nil && req.Method == "subscribe" {
						ch.in <- []byte(`{"jsonrpc":"2.0","result":["a"],"id":` + string(req.ID) + `}`)
					}
				case <-ch.done:
					return
				}
			}
		}()
		return ch, nil
	}
}

func failingDialer(dials *atomic.Int32) func(context.Context, Config, *http.Client) (Channel, error) {
	return func(_ context.Context, cfg Config, _ *http.Client) (Channel, error) {
		dials.Add(1)
		return nil, &HandshakeError{URL: cfg.URL(), Status: http.StatusServiceUnavailable, Err: errors.New("bad status")}
	}
}

func fastConfig() Config {
	cfg := testConfig()
	cfg.AttemptInterval = time.Millisecond
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.MaxSessionLifetime = 20 * time.Millisecond
	return cfg
}

func TestSupervisor_RepeatsSuccessfulAttempts(t *testing.T) {
	var dials atomic.Int32
	client := NewClient(fastConfig(), NewMemoryStore(), nil, WithDialer(answeringDialer(&dials)))
	sup := NewSupervisor(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.OnAttempt(func(s *Summary, err error) {
		if err != nil {
			t.Errorf("unexpected attempt error %v", err)
		}
		if sup.Attempts() >= 3 {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if sup.Attempts() < 3 {
		t.Errorf("expected at least 3 attempts, got %d", sup.Attempts())
	}
	if last := sup.Last(); last == nil || last.Status != http.StatusOK {
		t.Errorf("unexpected last summary %+v", last)
	}
}

func TestSupervisor_GivesUp(t *testing.T) {
	var dials atomic.Int32
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 2
	sup := NewSupervisor(NewClient(cfg, nil, nil, WithDialer(failingDialer(&dials))))

	err := sup.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "giving up") {
		t.Fatalf("expected give-up error, got %v", err)
	}
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Errorf("last cause must be kept, got %v", err)
	}
	if dials.Load() != 3 {
		t.Errorf("expected 3 dials, got %d", dials.Load())
	}
	if sup.Last().Status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", sup.Last().Status)
	}
}

func TestSupervisor_StopsOnConfigError(t *testing.T) {
	var dials atomic.Int32
	cfg := fastConfig()
	cfg.Events = ""
	sup := NewSupervisor(NewClient(cfg, nil, nil, WithDialer(failingDialer(&dials))))

	err := sup.Run(context.Background())
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if sup.Attempts() != 1 || dials.Load() != 0 {
		t.Errorf("expected one attempt and no dial, got %d/%d", sup.Attempts(), dials.Load())
	}
}

func TestReconnector_Backoff(t *testing.T) {
	r := newReconnector(Config{ReconnectBaseDelay: 100 * time.Millisecond, ReconnectMaxDelay: time.Second, MaxReconnectAttempts: 3})
	var last time.Duration
	for i := 0; i < 3; i++ {
		if !r.shouldReconnect() {
			t.Fatalf("attempt %d refused", i)
		}
		d := r.nextDelay()
		if d > time.Second {
			t.Errorf("delay %s exceeds max", d)
		}
		if d < last && d != time.Second {
			t.Errorf("delay decreased: %s after %s", d, last)
		}
		last = d
	}
	if r.shouldReconnect() {
		t.Error("expected attempts to be exhausted")
	}
	r.reset()
	if !r.shouldReconnect() {
		t.Error("reset must allow reconnecting again")
	}
}

// ============================================================================
// StatusHandler
// ============================================================================

func TestStatusHandler(t *testing.T) {
	var dials atomic.Int32
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	sup := NewSupervisor(NewClient(cfg, nil, nil, WithDialer(failingDialer(&dials))))
	srv := httptest.NewServer(StatusHandler(sup))
	defer srv.Close()

	t.Run("before first attempt", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
	})

	sup.Run(context.Background())

	t.Run("after failed attempts", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", resp.StatusCode)
		}
		var body struct {
			Status   int    `json:"status"`
			Message  string `json:"message"`
			Attempts int    `json:"attempts"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Attempts != 2 || body.Status != http.StatusBadGateway {
			t.Errorf("unexpected body %+v", body)
		}
		if !strings.HasPrefix(body.Message, "Failed to establish WebSocket connection") {
			t.Errorf("unexpected message %q", body.Message)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Post(srv.URL, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})
}
