package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/ssevents/ssevents-go"
)

// buildStore opens the cursor store selected by cfg.Store.Backend.
func buildStore(ctx context.Context, cfg *Config) (ssevents.Store, error) {
	switch cfg.Store.Backend {
	case "", "file":
		path := cfg.Store.Path
		if path == "" {
			dir, err := configDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "state.toml")
		}
		return ssevents.NewFileStore(path), nil
	case "memory":
		return ssevents.NewMemoryStore(), nil
	case "redis":
		return ssevents.NewRedisStore(ctx, cfg.Redis)
	case "etcd":
		if cfg.Store.EtcdEndpoints == "" {
			return nil, fmt.Errorf("store.etcd_endpoints is required for the etcd backend")
		}
		return ssevents.NewEtcdStore(splitList(cfg.Store.EtcdEndpoints), cfg.Store.EtcdPrefix)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildHandler assembles the notification pipeline: the stdout printer plus
// every configured forwarder, behind the optional filter. The returned
// closer releases sink connections.
func buildHandler(ctx context.Context, cfg *Config) (ssevents.NotificationHandler, func(), error) {
	var (
		handlers []ssevents.NotificationHandler
		closers  []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if !cfg.Forward.Quiet {
		handlers = append(handlers, printNotification(os.Stdout))
	}
	if cfg.Forward.WebhookURL != "" {
		fwd, err := ssevents.NewWebhookForwarder(cfg.Forward.WebhookURL, cfg.Forward.WebhookSecret, nil)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, fwd.Handle)
	}
	if cfg.Forward.RedisStream != "" {
		sink, err := ssevents.NewRedisStreamSink(ctx, cfg.Redis, cfg.Forward.RedisStream, 0)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, sink)
		handlers = append(handlers, sink.Handle)
	}
	if cfg.Forward.AMQPURL != "" {
		sink, err := ssevents.NewAMQPSink(cfg.Forward.AMQPURL, cfg.Forward.AMQPExchange)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, sink)
		handlers = append(handlers, sink.Handle)
	}

	handler := ssevents.Chain(handlers...)
	if cfg.Forward.Filter != "" {
		filter, err := ssevents.NewExprFilter(cfg.Forward.Filter)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		handler = filter.Wrap(handler)
	}
	return handler, closeAll, nil
}

// printNotification writes one line per notification: the event type in
// color, then the compact params.
func printNotification(w io.Writer) ssevents.NotificationHandler {
	event := color.New(color.FgCyan, color.Bold).SprintFunc()
	return func(_ context.Context, method string, params json.RawMessage) error {
		_, err := fmt.Fprintf(w, "%s %s\n", event(method), compactJSON(params))
		return err
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
