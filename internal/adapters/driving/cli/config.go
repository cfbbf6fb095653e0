package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foldline/internal/core/services"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and edit the foldline configuration file.

Keys use dotted names, e.g. cache.result_ttl or cache.tiers.weights.backend.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configuration file values",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Stores a value and checks that the resulting configuration is valid.
An invalid value is rolled back.

Values are stored as integers, floats or booleans when they parse as such,
otherwise as strings.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if configEditor == nil {
			return errors.New("config store not configured")
		}
		cmd.Println(configEditor.Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if configEditor == nil {
		return errors.New("config store not configured")
	}

	cmd.Println(styles.Title.Render("Configuration"))
	cmd.Println(styles.Muted.Render(configEditor.Path()))
	cmd.Println()

	keys := configEditor.Keys()
	if len(keys) == 0 {
		cmd.Println("No values set; defaults are in effect.")
	}
	for _, key := range keys {
		val, _ := configEditor.Get(key)
		cmd.Printf("  %s = %s\n", key, displayValue(key, val))
	}

	if settingsService != nil {
		current := settingsService.Current()
		cmd.Println()
		cmd.Printf("Active model version: %s\n", current.ModelVersion)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if configEditor == nil {
		return errors.New("config store not configured")
	}

	key := args[0]
	previous, existed := configEditor.Get(key)

	var value any = args[1]
	if _, wasString := previous.(string); !wasString {
		value = parseConfigValue(args[1])
	}

	if err := configEditor.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	if settingsService != nil {
		if err := settingsService.Reload(cmd.Context()); err != nil {
			restoreConfigValue(cmd.Context(), key, previous, existed)
			return fmt.Errorf("rejected %s: %w", key, err)
		}
	}

	cmd.Printf("Set %s = %s\n", key, displayValue(key, value))
	return nil
}

// restoreConfigValue undoes a rejected Set. Keys that did not exist are
// reset to an empty string since the store has no delete.
func restoreConfigValue(ctx context.Context, key string, previous any, existed bool) {
	if !existed {
		previous = ""
	}
	_ = configEditor.Set(key, previous)
	if settingsService != nil {
		_ = settingsService.Reload(ctx)
	}
}

// parseConfigValue converts a command-line value to the narrowest type.
// Keys that already hold a string stay strings.
func parseConfigValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// displayValue renders a value, masking credentials.
func displayValue(key string, val any) string {
	if isSecretKey(key) {
		if s, ok := val.(string); ok && s != "" {
			return maskSecret(s)
		}
	}
	return services.FormatValue(val)
}

func isSecretKey(key string) bool {
	return strings.HasSuffix(key, "password") || strings.HasSuffix(key, "secret_key")
}

// maskSecret shows only the last four characters.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
