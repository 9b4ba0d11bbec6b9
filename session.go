package ssevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Types
// ============================================================================

// NotificationHandler receives every server notification. Errors and panics
// are logged and never end the session.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage) error

// SubscriptionSpec is the params object of the subscribe request.
type SubscriptionSpec struct {
	Events []string `json:"events"`
	From   string   `json:"from"`
}

// SessionState represents the lifecycle of one connection.
type SessionState string

const (
	StateConnecting  SessionState = "connecting"
	StateSubscribing SessionState = "subscribing"
	StateStreaming   SessionState = "streaming"
	StateClosed      SessionState = "closed"
)

const (
	methodSubscribe = "subscribe"
	methodHeartbeat = "heartbeat"
)

// ============================================================================
// Session
// ============================================================================

// Session is one connection attempt: the channel, its pending request table
// and its watchdog. It is discarded on close and never reused.
type Session struct {
	ch      Channel
	cfg     Config
	cursor  *CursorStore
	handler NotificationHandler
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	corr *correlator
	dog  *watchdog

	mu         sync.Mutex
	state      SessionState
	closeCause error
	cancel     context.CancelFunc
	subscribed []string
	closeOnce  sync.Once
	delivered  atomic.Int64
}

// NewSession prepares a session over an established channel.
func NewSession(ch Channel, cfg Config, cursor *CursorStore, handler NotificationHandler, logger *slog.Logger) *Session {
	cfg.defaults()
	if logger == nil {
		logger = discardLogger()
	}
	if cursor == nil {
		cursor = NewCursorStore(nil, cfg.From, logger)
	}
	s := &Session{
		ch:      ch,
		cfg:     cfg,
		cursor:  cursor,
		handler: handler,
		logger:  logger,
		now:     time.Now,
		newID:   newRequestID,
		corr:    newCorrelator(),
		state:   StateConnecting,
	}
	s.dog = newWatchdog(cfg.HeartbeatInterval, cfg.HeartbeatDeadline, ch.Ping, s.Close)
	return s
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = st
	}
}

// CloseCause reports why the session ended, or nil while it is open.
func (s *Session) CloseCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCause
}

// Subscribed returns the event list the server acknowledged.
func (s *Session) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

// Delivered returns how many notifications were handed to the handler.
func (s *Session) Delivered() int {
	return int(s.delivered.Load())
}

// Run subscribes and dispatches inbound frames until the channel closes, the
// watchdog trips, MaxSessionLifetime elapses or ctx is cancelled. Only a
// failed subscription is returned as an error; every other ending is
// reported through CloseCause.
func (s *Session) Run(ctx context.Context) error {
	// Closing the session cancels sessCtx, which stops the cursor load, the
	// subscribe call and any handler still running.
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		cancel()
	}

	// Reads must outlive ctx so cancellation can still close with 1000.
	readCtx, cancelRead := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRead()

	readDone := make(chan error, 1)
	go func() {
		err := s.readLoop(readCtx, sessCtx)
		s.Close(err)
		readDone <- err
	}()
	go s.dog.Run(sessCtx)

	if s.cfg.MaxSessionLifetime > 0 {
		t := time.AfterFunc(s.cfg.MaxSessionLifetime, func() { s.Close(ErrLifetimeElapsed) })
		defer t.Stop()
	}

	s.setState(StateSubscribing)
	spec := SubscriptionSpec{Events: s.cfg.EventList(), From: s.cursor.Load(sessCtx)}
	if _, err := s.Subscribe(sessCtx, spec); err != nil {
		s.Close(err)
		cancelRead()
		<-readDone
		return err
	}
	s.setState(StateStreaming)

	select {
	case <-readDone:
		return nil
	case <-ctx.Done():
		s.Close(ctx.Err())
	}
	cancelRead()
	<-readDone
	return nil
}

// Subscribe issues the subscribe RPC and waits up to SubscribeTimeout for
// the acknowledgement. Any failure is a *SubscriptionError.
func (s *Session) Subscribe(ctx context.Context, spec SubscriptionSpec) ([]string, error) {
	req := &Request{Method: methodSubscribe, Params: spec, ID: s.newID()}
	s.logger.Debug("subscribing",
		slog.Any("events", spec.Events),
		slog.String("from", spec.From),
		slog.String("rpc.id", req.ID))

	result, err := s.corr.Call(ctx, s.ch, req, s.cfg.SubscribeTimeout)
	if err != nil {
		subErr := &SubscriptionError{RequestID: req.ID, Err: err}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			subErr.RPC = rpcErr
		}
		return nil, subErr
	}

	var events []string
	if err := json.Unmarshal(result, &events); err != nil {
		s.logger.Warn("unexpected subscribe result", slog.String("result", string(result)))
	}
	s.mu.Lock()
	s.subscribed = events
	s.mu.Unlock()
	s.logger.Info("subscribed", slog.Any("events", events))
	return events, nil
}

// Close ends the session once. The context handed to Run's subscribe path
// and handlers is cancelled, pending requests are rejected with
// ErrSessionClosed and the channel is closed with a normal closure.
func (s *Session) Close(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCause = cause
		s.state = StateClosed
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		reason := closeReason(cause)
		s.corr.Close(fmt.Errorf("%w: %s", ErrSessionClosed, reason))

		level := slog.LevelInfo
		if cause != nil && !errors.Is(cause, ErrLifetimeElapsed) && !errors.Is(cause, context.Canceled) {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "closing connection", slog.String("reason", reason))

		// Close frames carry at most 123 bytes of reason.
		if len(reason) > 123 {
			reason = reason[:123]
		}
		if err := s.ch.Close(StatusNormalClosure, reason); err != nil {
			s.logger.Debug("error closing websocket", slog.Any("err", err))
		}
	})
}

func closeReason(cause error) string {
	var subErr *SubscriptionError
	switch {
	case cause == nil:
		return "client disconnect"
	case errors.Is(cause, ErrLifetimeElapsed):
		return "Maximum execution time reached"
	case errors.Is(cause, ErrHeartbeatTimeout):
		return "Heartbeat timeout"
	case errors.As(cause, &subErr):
		return "Subscription failed"
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return "Client shutdown"
	default:
		return describeClose(cause)
	}
}

// ============================================================================
// Dispatch Loop
// ============================================================================

func (s *Session) readLoop(readCtx, ctx context.Context) error {
	for {
		data, err := s.ch.Read(readCtx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, data)
	}
}

// dispatch routes one inbound frame. It runs on the read goroutine only, so
// frames are handled one at a time in arrival order.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		s.logger.Warn("discarding inbound frame", slog.Any("err", err))
		return
	}

	switch f := frame.(type) {
	case Notification:
		s.handleNotification(ctx, f)
	case ServerRequest:
		if f.Method == methodHeartbeat {
			s.replyHeartbeat(ctx, f)
			return
		}
		s.logger.Debug("ignoring server request",
			slog.String("rpc.method", f.Method), slog.String("rpc.id", f.ID.String()))
	case Result:
		if !s.corr.Resolve(f.ID.String(), f.Result) {
			s.logger.Debug("ignoring result for unknown request", slog.String("rpc.id", f.ID.String()))
		}
	case ErrorResult:
		if !s.corr.Reject(f.ID.String(), f.Error) {
			s.logger.Debug("ignoring error for unknown request", slog.String("rpc.id", f.ID.String()))
		}
	}
}

// handleNotification persists the cursor before the handler sees the event,
// so a crash can only cause redelivery, never loss.
func (s *Session) handleNotification(ctx context.Context, n Notification) {
	if ts := notificationTimestamp(n.Params); ts != "" {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = s.cursor.Save(saveCtx, ts)
		cancel()
	}

	s.delivered.Add(1)
	if s.handler == nil {
		return
	}
	if err := s.invoke(ctx, n); err != nil {
		s.logger.Error("notification handler failed",
			slog.String("rpc.method", n.Method), slog.Any("err", err))
	}
}

func (s *Session) invoke(ctx context.Context, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, n.Method, n.Params)
}

func (s *Session) replyHeartbeat(ctx context.Context, req ServerRequest) {
	data, err := json.Marshal(resultEnvelope{
		JSONRPC: ProtocolVersion,
		Result:  isoNow(s.now()),
		ID:      req.ID,
	})
	if err != nil {
		s.logger.Error("marshal heartbeat reply", slog.Any("err", err))
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.ch.Write(writeCtx, data); err != nil {
		s.logger.Warn("heartbeat reply failed", slog.String("rpc.id", req.ID.String()), slog.Any("err", err))
		return
	}
	s.dog.Reset()
}

func notificationTimestamp(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p struct {
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if json.Unmarshal(params, &p) != nil || len(p.Timestamp) == 0 {
		return ""
	}
	var ts string
	if json.Unmarshal(p.Timestamp, &ts) != nil {
		return ""
	}
	return ts
}
