package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initEvents string

func init() {
	initCmd.Flags().StringVar(&initEvents, "events", "", "comma-separated event types to subscribe to")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <hostname> <api-key>",
	Short: "Store hostname and API key in ~/.ssevents/config.toml",
	Long:  "Initialize the ssevents CLI by storing the stream host and credential in the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Stream.Hostname = args[0]
		cfg.Stream.APIKey = args[1]
		if initEvents != "" {
			cfg.Stream.Events = initEvents
		}
		if cfg.Store.Backend == "" {
			cfg.Store.Backend = "file"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		if cfg.Stream.Events == "" {
			fmt.Println("No events configured yet. Run 'ssevents config set stream.events <a,b,...>'.")
		}
		return nil
	},
}
