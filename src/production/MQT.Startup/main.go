package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	container "gitlab.com/maplesense1/gnss.tracker_server/src/production/MQT.Container"
)

var rootCmd = &cobra.Command{
	Use:   "gnss-startup",
	Short: "Bootstrap and maintenance tasks for the GNSS tracker",
	Long: `gnss-startup prepares the configured store before the ingestor and
API services start, checks their dependencies and replays captured
feed messages.`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tracking schema in the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctr, err := container.NewApiContainer()
		if err != nil {
			return err
		}
		defer ctr.Shutdown(context.Background())

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		if _, err := ctr.GetStore(ctx); err != nil {
			return err
		}
		ctr.GetLogger().WithField("driver", ctr.GetConfig().Database.Driver).Info("Store is ready")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check store and archive connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctr, err := container.NewApiContainer()
		if err != nil {
			return err
		}
		defer ctr.Shutdown(context.Background())

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if _, err := ctr.GetRawMessageArchive(); err != nil {
			return err
		}
		checker, err := ctr.GetHealthChecker(ctx)
		if err != nil {
			return err
		}

		status := checker.GetHealthStatus(ctx)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			return err
		}
		if status["status"] != "ok" {
			return fmt.Errorf("dependencies are %v", status["status"])
		}
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Apply captured feed messages from a JSON lines file",
	Long: `Each line of FILE is an object {"topic": "...", "payload": "..."}.
Messages are decoded and applied exactly as the ingestor would; malformed
lines and messages are counted and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ctr, err := container.NewIngestorContainer()
		if err != nil {
			return err
		}
		defer ctr.Shutdown(context.Background())

		svc, err := ctr.GetTrackingService(cmd.Context())
		if err != nil {
			return err
		}

		stats, err := replay(cmd.Context(), f, svc, ctr.GetLogger())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied=%d discarded=%d malformed=%d failed=%d\n",
			stats.Applied, stats.Discarded, stats.Malformed, stats.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
