package ssevents

import (
	"context"
	"log/slog"
	"time"
)

// isoMillis matches the millisecond ISO-8601 form the server emits.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func isoNow(now time.Time) string {
	return now.UTC().Format(isoMillis)
}

// CursorStore loads and saves the replay cursor. Neither operation fails the
// session: Load always produces a usable cursor and Save only reports.
type CursorStore struct {
	store  Store
	key    string
	from   string
	now    func() time.Time
	logger *slog.Logger

	// loadTimeout bounds a single store read.
	loadTimeout time.Duration
}

// defaultLoadTimeout matches the bound on cursor saves.
const defaultLoadTimeout = 5 * time.Second

// NewCursorStore wraps store. from is the configured start-from value used
// when nothing has been persisted yet.
func NewCursorStore(store Store, from string, logger *slog.Logger) *CursorStore {
	if logger == nil {
		logger = discardLogger()
	}
	return &CursorStore{
		store:  store,
		key:    CursorKey,
		from:   from,
		now:    time.Now,
		logger: logger,

		loadTimeout: defaultLoadTimeout,
	}
}

// Load returns, in order of preference: the stored cursor, the configured
// start-from value, the current time. A store failure, including a read that
// outlasts the load timeout, skips straight to the current time.
func (c *CursorStore) Load(ctx context.Context) string {
	if c.store == nil {
		return c.fallback()
	}
	getCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	v, ok, err := c.store.Get(getCtx, c.key)
	cancel()
	if err != nil {
		now := isoNow(c.now())
		c.logger.Error("error loading replay cursor, using current time",
			slog.Any("err", &PersistenceError{Op: "load", Key: c.key, Err: err}),
			slog.String("cursor", now))
		return now
	}
	if ok && v != "" {
		c.logger.Debug("loaded replay cursor from store", slog.String("cursor", v))
		return v
	}
	return c.fallback()
}

func (c *CursorStore) fallback() string {
	if c.from != "" {
		c.logger.Debug("loaded replay cursor from configuration", slog.String("cursor", c.from))
		return c.from
	}
	now := isoNow(c.now())
	c.logger.Debug("no stored replay cursor, using current time", slog.String("cursor", now))
	return now
}

// Save writes cursor best-effort. A failure is logged and returned as a
// *PersistenceError for callers that want to count it.
func (c *CursorStore) Save(ctx context.Context, cursor string) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Put(ctx, c.key, cursor); err != nil {
		perr := &PersistenceError{Op: "save", Key: c.key, Err: err}
		c.logger.Error("error storing replay cursor", slog.Any("err", perr))
		return perr
	}
	return nil
}

// Reset removes the persisted cursor so the next Load falls back.
func (c *CursorStore) Reset(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Delete(ctx, c.key); err != nil {
		return &PersistenceError{Op: "delete", Key: c.key, Err: err}
	}
	return nil
}
