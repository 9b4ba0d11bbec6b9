package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ssevents/ssevents-go"
)

// ============================================================================
// Flags
// ============================================================================

var (
	runEvents string
	runFrom   string
	runJSON   bool

	watchUnbounded  bool
	watchStatusAddr string
)

func init() {
	runCmd.Flags().StringVar(&runEvents, "events", "", "override stream.events")
	runCmd.Flags().StringVar(&runFrom, "from", "", "override stream.from (used only when no cursor is stored)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the attempt summary as JSON")

	watchCmd.Flags().StringVar(&runEvents, "events", "", "override stream.events")
	watchCmd.Flags().StringVar(&runFrom, "from", "", "override stream.from (used only when no cursor is stored)")
	watchCmd.Flags().BoolVar(&watchUnbounded, "unbounded", false, "keep each session open without a lifetime limit")
	watchCmd.Flags().StringVar(&watchStatusAddr, "status-addr", "", "serve the last attempt summary on this address (e.g. :8080)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
}

// ============================================================================
// run
// ============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one connection attempt",
	Long: "Connect, subscribe from the stored replay cursor and print notifications until\n" +
		"the server closes the stream or the session lifetime elapses.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, cleanup, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		summary, runErr := client.Run(ctx)
		printSummary(summary)
		if runErr != nil {
			return runErr
		}
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconnect continuously",
	Long: "Run attempts back to back, at most one per stream.attempt_interval, backing off\n" +
		"after failures. Stops on interrupt or on a configuration error.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, cleanup, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		sup := ssevents.NewSupervisor(client)
		sup.OnAttempt(func(summary *ssevents.Summary, _ error) {
			printSummary(summary)
		})

		if watchStatusAddr != "" {
			srv := &http.Server{
				Addr:              watchStatusAddr,
				Handler:           ssevents.StatusHandler(sup),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("status server failed", slog.Any("err", err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving status", slog.String("addr", watchStatusAddr))
		}

		return sup.Run(ctx)
	},
}

// ============================================================================
// Helpers
// ============================================================================

// newClient builds a client from the loaded config and command flags.
func newClient(ctx context.Context) (*ssevents.Client, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if runEvents != "" {
		cfg.Stream.Events = runEvents
	}
	if runFrom != "" {
		cfg.Stream.From = runFrom
	}
	if watchUnbounded {
		cfg.Stream.Unbounded = true
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	handler, closeSinks, err := buildHandler(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to set up forwarding: %w", err)
	}

	client := ssevents.NewClient(cfg.Stream, store, handler, ssevents.WithLogger(logger))
	cleanup := func() {
		closeSinks()
		store.Close()
	}
	return client, cleanup, nil
}

func printSummary(summary *ssevents.Summary) {
	if summary == nil {
		return
	}
	if runJSON {
		data, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(data))
		return
	}

	status := color.New(color.FgGreen).SprintfFunc()
	if !summary.OK() {
		status = color.New(color.FgRed).SprintfFunc()
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", status("[%d]", summary.Status), summary.Message)
	if len(summary.Subscribed) > 0 {
		fmt.Fprintf(os.Stderr, "  Subscribed: %v\n", summary.Subscribed)
	}
	fmt.Fprintf(os.Stderr, "  Delivered:  %d\n", summary.Delivered)
	if summary.CloseReason != "" {
		fmt.Fprintf(os.Stderr, "  Closed:     %s\n", summary.CloseReason)
	}
	fmt.Fprintf(os.Stderr, "  Duration:   %s\n", summary.EndedAt.Sub(summary.StartedAt).Round(time.Millisecond))
}
