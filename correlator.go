package ssevents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Correlator
// ============================================================================

// pendingEntry is one outstanding client request. It is owned by the
// correlator's table and leaves it exactly once.
type pendingEntry struct {
	req       *Request
	onSuccess func(result json.RawMessage)
	onFailure func(err error)
	timer     *time.Timer
}

// correlator matches Result and ErrorResult frames to the request that
// produced them. Whoever removes an entry from the table (response, timeout
// or close) is the only one allowed to run its continuation.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingEntry)}
}

// Send registers req, arms its timeout and writes it to ch. Exactly one of
// onSuccess and onFailure will be called, on a goroutine that may be the
// dispatch loop or a timer. A returned error means neither will be called.
func (c *correlator) Send(ctx context.Context, ch Channel, req *Request, onSuccess func(json.RawMessage), onFailure func(error), timeout time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", req.Method, err)
	}

	entry := &pendingEntry{req: req, onSuccess: onSuccess, onFailure: onFailure}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if _, exists := c.pending[req.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, req.ID)
	}
	c.pending[req.ID] = entry
	entry.timer = time.AfterFunc(timeout, func() {
		if e := c.take(req.ID); e != nil {
			e.onFailure(&TimeoutError{RequestID: req.ID, Method: req.Method, After: timeout})
		}
	})
	c.mu.Unlock()

	if err := ch.Write(ctx, data); err != nil {
		if e := c.take(req.ID); e != nil {
			e.timer.Stop()
			return fmt.Errorf("send %s request: %w", req.Method, err)
		}
		// A timeout or close already claimed the entry and reported it.
		return nil
	}
	return nil
}

// Call is the blocking form of Send.
func (c *correlator) Call(ctx context.Context, ch Channel, req *Request, timeout time.Duration) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	err := c.Send(ctx, ch, req,
		func(r json.RawMessage) { done <- outcome{result: r} },
		func(err error) { done <- outcome{err: err} },
		timeout)
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if e := c.take(req.ID); e != nil {
			e.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// take removes id from the table and returns its entry, or nil when the
// entry was already resolved, rejected or timed out.
func (c *correlator) take(id string) *pendingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return e
}

// Resolve hands a Result to the matching request. Unknown ids are ignored.
func (c *correlator) Resolve(id string, result json.RawMessage) bool {
	e := c.take(id)
	if e == nil {
		return false
	}
	e.timer.Stop()
	e.onSuccess(result)
	return true
}

// Reject hands an ErrorResult to the matching request. Unknown ids are ignored.
func (c *correlator) Reject(id string, rpcErr *RPCError) bool {
	e := c.take(id)
	if e == nil {
		return false
	}
	e.timer.Stop()
	e.onFailure(rpcErr)
	return true
}

// Close stops every timer and fails the remaining requests with cause.
// Later Sends return ErrSessionClosed.
func (c *correlator) Close(cause error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingEntry)
	c.mu.Unlock()

	for _, e := range pending {
		e.timer.Stop()
		e.onFailure(cause)
	}
}

// Pending reports whether id is still outstanding.
func (c *correlator) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Len returns the number of outstanding requests.
func (c *correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
