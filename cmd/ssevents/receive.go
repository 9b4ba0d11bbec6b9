package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssevents/ssevents-go"
)

var (
	receiveAddr   string
	receiveSecret string
)

func init() {
	receiveCmd.Flags().StringVar(&receiveAddr, "addr", ":8090", "address to listen on")
	receiveCmd.Flags().StringVar(&receiveSecret, "secret", "", "shared signing secret (default forward.webhook_secret)")
	rootCmd.AddCommand(receiveCmd)
}

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Accept forwarded notifications over HTTP",
	Long: "Listen for webhook deliveries from another ssevents instance, verify the\n" +
		"X-SSEvents-Signature header and print each notification that passes forward.filter.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if receiveSecret != "" {
			cfg.Forward.WebhookSecret = receiveSecret
		}
		receiver, err := newReceiver(cfg, os.Stdout)
		if err != nil {
			return err
		}

		srv := &http.Server{Addr: receiveAddr, Handler: receiver, ReadHeaderTimeout: 10 * time.Second}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		logger.Info("receiving webhooks", slog.String("addr", receiveAddr))

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// newReceiver builds the webhook endpoint: signature check, then the
// optional filter, then a printer writing to w.
func newReceiver(cfg *Config, w io.Writer) (*ssevents.WebhookReceiver, error) {
	handler := printNotification(w)
	if cfg.Forward.Filter != "" {
		filter, err := ssevents.NewExprFilter(cfg.Forward.Filter)
		if err != nil {
			return nil, err
		}
		handler = filter.Wrap(handler)
	}
	return ssevents.NewWebhookReceiver(cfg.Forward.WebhookSecret, handler)
}
