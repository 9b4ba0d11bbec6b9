package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssevents/ssevents-go"
)

func init() {
	rootCmd.AddCommand(cursorCmd)
	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorSetCmd)
	cursorCmd.AddCommand(cursorClearCmd)
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or move the replay cursor",
	Long:  "The replay cursor is the timestamp of the last received notification; the next attempt subscribes from it.",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored replay cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store ssevents.Store) error {
			v, ok, err := store.Get(ctx, ssevents.CursorKey)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(not set)")
				return nil
			}
			fmt.Println(v)
			return nil
		})
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <timestamp>",
	Short: "Overwrite the stored replay cursor",
	Long:  "Overwrite the stored replay cursor.\nExample: ssevents cursor set 2024-01-01T00:00:00.000Z",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := time.Parse(time.RFC3339Nano, args[0]); err != nil {
			return fmt.Errorf("cursor must be an ISO-8601 timestamp: %w", err)
		}
		return withStore(cmd.Context(), func(ctx context.Context, store ssevents.Store) error {
			if err := store.Put(ctx, ssevents.CursorKey, args[0]); err != nil {
				return err
			}
			fmt.Printf("Cursor set to %s\n", args[0])
			return nil
		})
	},
}

var cursorClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored replay cursor",
	Long:  "Delete the stored replay cursor. The next attempt starts from stream.from, or from now.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store ssevents.Store) error {
			if err := store.Delete(ctx, ssevents.CursorKey); err != nil {
				return err
			}
			fmt.Println("Cursor cleared")
			return nil
		})
	},
}

func withStore(parent context.Context, fn func(ctx context.Context, store ssevents.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}
