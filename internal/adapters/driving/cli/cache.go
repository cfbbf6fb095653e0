package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

var (
	cacheStatsJSON bool
	cacheKeepVer   string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the cache hierarchy",
	Long: `Commands for the result, feature, alignment and weights cache tiers.

Expired entries and entries from stale model versions are also removed by
the background scheduler while the MCP server runs.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-tier cache counters",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired entries from every tier",
	Args:  cobra.NoArgs,
	RunE:  runCachePurge,
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove entries produced by other model versions",
	Long: `Removes version-tagged entries whose model version differs from --keep
(default: the configured model version). Untagged entries such as
alignments are kept.`,
	Args: cobra.NoArgs,
	RunE: runCacheSweep,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [tier] [key]",
	Short: "Remove a single cache entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheInvalidate,
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&cacheStatsJSON, "json", false, "output counters as JSON")
	cacheSweepCmd.Flags().StringVar(&cacheKeepVer, "keep", "", "model version to keep (default: configured version)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	if cacheAdmin == nil {
		return errors.New("cache not configured")
	}

	stats := cacheAdmin.Stats()
	if cacheStatsJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(stats) == 0 {
		cmd.Println("No cache tiers enabled.")
		return nil
	}

	cmd.Println(styles.Title.Render("Cache Tiers"))
	cmd.Printf("  %-10s %8s %8s %8s %8s %8s %9s\n", "TIER", "HITS", "MISSES", "EXPIRED", "STORES", "ERRORS", "COALESCED")
	for _, st := range stats {
		cmd.Printf("  %-10s %8d %8d %8d %8d %8d %9d\n",
			st.Tier, st.Hits, st.Misses, st.Expired, st.Stores, st.Errors, st.Coalesced)
	}
	return nil
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	if cacheAdmin == nil {
		return errors.New("cache not configured")
	}

	n, err := cacheAdmin.PurgeExpired(cmd.Context())
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	cmd.Printf("Removed %d expired entries.\n", n)
	return nil
}

func runCacheSweep(cmd *cobra.Command, _ []string) error {
	if cacheAdmin == nil {
		return errors.New("cache not configured")
	}

	keep := cacheKeepVer
	if keep == "" {
		if settingsService == nil {
			return errors.New("settings service not configured; pass --keep")
		}
		keep = settingsService.Current().ModelVersion
	}

	n, err := cacheAdmin.InvalidateVersion(cmd.Context(), keep)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	cmd.Printf("Removed %d entries not produced by model version %s.\n", n, keep)
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	if cacheAdmin == nil {
		return errors.New("cache not configured")
	}

	tier := domain.TierID(args[0])
	if !tier.IsValid() {
		return fmt.Errorf("%w: unknown cache tier %q", domain.ErrInvalidInput, args[0])
	}
	if err := cacheAdmin.Invalidate(cmd.Context(), tier, args[1]); err != nil {
		return fmt.Errorf("invalidate failed: %w", err)
	}
	cmd.Printf("Removed %s entry %s.\n", tier, args[1])
	return nil
}
