// Package ssevents is a client for JSON-RPC event streams delivered over a
// websocket, such as the self-service events API.
//
// One call to Client.Run is one invocation: it connects, subscribes from the
// durable replay cursor, and hands every notification to the handler until
// the connection closes or the session lifetime elapses.
//
// Example:
//
//	cfg, _ := ssevents.ConfigFromEnv()
//	store := ssevents.NewFileStore("/var/lib/ssevents/state.toml")
//	client := ssevents.NewClient(cfg, store, func(ctx context.Context, method string, params json.RawMessage) error {
//		log.Printf("%s: %s", method, params)
//		return nil
//	})
//	summary, err := client.Run(ctx)
//
// Supervisor wraps Run for long-lived processes that reconnect on their own.
package ssevents

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// Client
// ============================================================================

// Client runs connection attempts against one configured event stream.
type Client struct {
	cfg        Config
	store      Store
	handler    NotificationHandler
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	dial       func(ctx context.Context, cfg Config, httpClient *http.Client) (Channel, error)
}

type ClientOption func(*Client)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient sets the client used for the upgrade handshake.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithClock overrides the time source used for fallback cursors and
// heartbeat replies.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithDialer replaces the websocket dialer, e.g. with an in-process channel.
func WithDialer(dial func(ctx context.Context, cfg Config, httpClient *http.Client) (Channel, error)) ClientOption {
	return func(c *Client) { c.dial = dial }
}

// NewClient creates a client. store may be nil, in which case the cursor is
// never persisted and every attempt starts from cfg.From or now.
func NewClient(cfg Config, store Store, handler NotificationHandler, opts ...ClientOption) *Client {
	c := &Client{
		cfg:     cfg,
		store:   store,
		handler: handler,
		logger:  discardLogger(),
		now:     time.Now,
		dial:    Dial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Summary is the externally visible outcome of one attempt.
type Summary struct {
	Status      int       `json:"status"`
	Message     string    `json:"message"`
	Subscribed  []string  `json:"subscribed,omitempty"`
	Delivered   int       `json:"delivered"`
	CloseReason string    `json:"closeReason,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
}

// OK reports whether the attempt succeeded.
func (s *Summary) OK() bool { return s.Status >= 200 && s.Status < 300 }

// Run performs one attempt: validate, dial, subscribe, dispatch. Config,
// handshake and subscription failures are returned as errors and reflected
// in a non-2xx Summary.Status; every other ending is a successful attempt.
func (c *Client) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: c.now()}
	finish := func(err error) (*Summary, error) {
		summary.EndedAt = c.now()
		summary.Status = statusForError(err)
		if err != nil {
			summary.Message = fmt.Sprintf("Failed to establish WebSocket connection: %v", err)
			c.logger.Error("attempt failed", slog.Int("status", summary.Status), slog.Any("err", err))
		} else {
			summary.Message = "WebSocket connection established"
		}
		return summary, err
	}

	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return finish(err)
	}
	cfg.defaults()

	logger := c.logger.With(slog.String("host", cfg.Hostname))
	logger.Debug("connecting", slog.String("url", cfg.URL()))

	ch, err := c.dial(ctx, cfg, c.httpClient)
	if err != nil {
		return finish(err)
	}

	cursor := NewCursorStore(c.store, cfg.From, logger)
	cursor.now = c.now
	sess := NewSession(ch, cfg, cursor, c.handler, logger)
	sess.now = c.now

	err = sess.Run(ctx)
	summary.Subscribed = sess.Subscribed()
	summary.Delivered = sess.Delivered()
	summary.CloseReason = closeReason(sess.CloseCause())
	return finish(err)
}
