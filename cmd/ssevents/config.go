package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configShowRaw bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "print the config file as stored, without environment or masking")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ssevents configuration",
	Long:  "View or modify the ssevents configuration stored in ~/.ssevents/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: "Print the configuration a run would use: the config file with SSEVENTS_*\n" +
		"environment variables applied. Credentials are masked unless --raw is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if configShowRaw {
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No configuration file found. Run 'ssevents init <hostname> <api-key>' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return showConfig(cmd.OutOrStdout(), path, cfg, os.Environ())
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Example: ssevents config set stream.events vulnerability-created,asset-updated",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// The file alone, so environment overrides are not persisted.
		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		display := value
		if isSecretKey(key) {
			display = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, display)
		return nil
	},
}

// showConfig writes cfg as TOML with credentials masked, preceded by the
// file it came from and the environment variables layered over it.
func showConfig(w io.Writer, path string, cfg *Config, environ []string) error {
	data, err := toml.Marshal(redactConfig(*cfg))
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	fmt.Fprintf(w, "# file: %s\n", path)
	for _, name := range envOverrides(environ) {
		fmt.Fprintf(w, "# env:  %s\n", name)
	}
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

// redactConfig masks every credential the CLI can hold.
func redactConfig(cfg Config) Config {
	if cfg.Stream.APIKey != "" {
		cfg.Stream.APIKey = maskKey(cfg.Stream.APIKey)
	}
	if cfg.Forward.WebhookSecret != "" {
		cfg.Forward.WebhookSecret = maskKey(cfg.Forward.WebhookSecret)
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "****"
	}
	cfg.Forward.AMQPURL = maskURLPassword(cfg.Forward.AMQPURL)
	return cfg
}

// maskURLPassword hides the password in a URL's userinfo.
func maskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

func isSecretKey(key string) bool {
	switch key {
	case "stream.api_key", "forward.webhook_secret", "redis.password":
		return true
	}
	return false
}

// envOverrides lists the SSEVENTS_* variables set in environ, sorted.
func envOverrides(environ []string) []string {
	var names []string
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(name, "SSEVENTS_") {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
