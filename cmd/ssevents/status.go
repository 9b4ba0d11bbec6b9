package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssevents/ssevents-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and replay cursor",
	Long:  "Display the effective configuration (file plus environment) and the stored replay cursor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		s := cfg.Stream

		fmt.Println("Stream:")
		fmt.Printf("  Hostname:    %s\n", valueOrDefault(s.Hostname, "(not set)"))
		if s.Hostname != "" {
			fmt.Printf("  URL:         %s\n", s.URL())
		}
		fmt.Printf("  Events:      %s\n", valueOrDefault(s.Events, "(not set)"))
		if s.APIKey != "" {
			fmt.Printf("  API Key:     %s\n", maskKey(s.APIKey))
		} else {
			fmt.Println("  API Key:     (not set)")
		}
		fmt.Printf("  From:        %s\n", valueOrDefault(s.From, "(now)"))
		if err := s.Validate(); err != nil {
			fmt.Printf("  Invalid:     %v\n", err)
		}

		fmt.Println()
		fmt.Println("Store:")
		fmt.Printf("  Backend:     %s\n", valueOrDefault(cfg.Store.Backend, "file"))

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		store, err := buildStore(ctx, cfg)
		if err != nil {
			fmt.Printf("  Error:       %v\n", err)
			return nil
		}
		defer store.Close()
		if fs, ok := store.(*ssevents.FileStore); ok {
			fmt.Printf("  Path:        %s\n", fs.Path())
		}
		cursor, ok, err := store.Get(ctx, ssevents.CursorKey)
		switch {
		case err != nil:
			fmt.Printf("  Cursor:      error: %v\n", err)
		case !ok:
			fmt.Println("  Cursor:      (not set)")
		default:
			fmt.Printf("  Cursor:      %s\n", cursor)
		}
		return nil
	},
}

// maskKey shows the first 4 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
