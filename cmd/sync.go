package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
	"github.com/marcus/navsync/internal/relay"
	navsync "github.com/marcus/navsync/internal/sync"
	"github.com/marcus/navsync/internal/version"
)

// Styles for sync output
var (
	pushArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("→") // green
	pullArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("←") // cyan
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// progressRelay draws a progress bar on terminals and logs everything.
func progressRelay() navsync.Relay {
	if !output.IsTerminal() {
		return relay.Logger{}
	}
	return relay.Multi{
		relay.Logger{},
		relay.Funcs{
			Progress: func(f float64) {
				fmt.Printf("\r%s %s", pullArrow, output.FormatProgress(f, 30))
				if f >= 1 {
					fmt.Println()
				}
			},
		},
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync local data with the server",
	Long: `Uploads pending local edits, then downloads every record in dependency
order (zones, areas, cells, beacons) and merges it by last-modified time.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		statusOnly, _ := cmd.Flags().GetBool("status")

		if statusOnly {
			return runSyncStatus(cmd)
		}
		if !pullOnly {
			if err := runPush(cmd); err != nil {
				return err
			}
		}
		if !pushOnly {
			if err := runPull(cmd); err != nil {
				return err
			}
		}
		return nil
	},
}

// runPush uploads pending local changes and prints the outcome.
func runPush(cmd *cobra.Command) error {
	sess, err := openSyncSession(nil)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer sess.Close()

	report, err := sess.engine.PushPending(cmd.Context())
	if report != nil {
		printUploadReport(report)
	}
	if err != nil {
		if report == nil || len(report.Errors) == 0 {
			output.Error("push: %v", err)
		}
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

func printUploadReport(r *navsync.UploadReport) {
	if r.Batches == 0 && len(r.Acknowledged) == 0 {
		fmt.Printf("%s nothing to push\n", pushArrow)
		return
	}
	fmt.Printf("%s pushed %d records in %d batches\n", pushArrow, len(r.Acknowledged), r.Batches)
	if n := len(r.Deferred); n > 0 {
		output.Warning("%d records are older than the server copy and were deferred", n)
	}
	if n := len(r.Failed); n > 0 {
		output.Warning("%d records in partially failed batches were deferred", n)
	}
	if n := len(r.Invalid); n > 0 {
		output.Warning("%d records were refused as invalid", n)
	}
	if len(r.Deferred)+len(r.Failed) > 0 {
		fmt.Println(dimStyle.Render("  run: navsync reconcile"))
	}
	for _, err := range r.Errors {
		output.Error("%v", err)
	}
}

// runPull downloads and merges the whole dataset.
func runPull(cmd *cobra.Command) error {
	sess, err := openSyncSession(progressRelay())
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer sess.Close()

	stats, err := sess.engine.FullSync(cmd.Context())
	if err != nil {
		output.Error("pull: %v", err)
		return err
	}
	fmt.Printf("%s pulled: %d applied, %d unchanged", pullArrow, stats.Applied, stats.Discarded)
	if stats.Placeholders > 0 {
		fmt.Printf(", %d placeholders", stats.Placeholders)
	}
	if stats.Invalid > 0 {
		fmt.Printf(", %d invalid", stats.Invalid)
	}
	fmt.Println()
	return nil
}

func runSyncStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	sess, err := openSyncSession(nil)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer sess.Close()

	pending, err := sess.store.CountPending(ctx)
	if err != nil {
		return err
	}
	placeholders, err := sess.store.CountPlaceholders(ctx)
	if err != nil {
		return err
	}
	deferred, err := sess.cache.Len(ctx)
	if err != nil {
		return err
	}
	lastFull, err := sess.store.LastFullSyncAt(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Server:        %s\n", cfg.ServerURL)
	fmt.Printf("Device:        %s\n", cfg.DeviceID)
	if health, err := sess.client.HealthCheck(ctx); err != nil {
		fmt.Printf("Reachable:     no (%v)\n", err)
	} else {
		fmt.Printf("Reachable:     %s\n", health.Status)
		if health.Version != "" {
			skew := version.Compare(appVersion, health.Version)
			fmt.Printf("Server ver:    %s (%s)\n", health.Version, skew)
		}
	}
	fmt.Printf("Pending:       %d\n", pending)
	fmt.Printf("Deferred:      %d\n", deferred)
	fmt.Printf("Placeholders:  %d\n", placeholders)
	if lastFull.IsZero() {
		fmt.Println("Last pull:     never")
	} else {
		fmt.Printf("Last pull:     %s (%s)\n", lastFull.Local().Format(time.DateTime), output.FormatTimeAgo(lastFull))
	}
	return nil
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve deferred records",
	Long: `Drains the retry cache. Each deferred record is compared with the server
copy: a newer server copy is merged locally, otherwise the local record (or
its deletion) overwrites the server.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSyncSession(nil)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		report, err := sess.engine.Reconcile(cmd.Context())
		if err != nil {
			output.Error("reconcile: %v", err)
			return err
		}
		if report.Drained == 0 {
			fmt.Println("Nothing to reconcile")
			return nil
		}
		fmt.Printf("Reconciled %d records: %d merged, %d uploaded, %d deleted\n",
			report.Drained, report.Merged, report.Uploaded, report.Deleted)
		if report.Requeued > 0 {
			output.Warning("%d records were requeued", report.Requeued)
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List records waiting in the retry cache",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		sess, err := openSyncSession(nil)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		entries, err := sess.cache.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No deferred records")
			return nil
		}

		fmt.Print(output.SectionHeader(fmt.Sprintf("deferred (%d)", len(entries))))
		for _, e := range entries {
			line := fmt.Sprintf("  %s %s", output.FormatKind(e.Identity.Kind()), e.Identity)
			if local, err := sess.store.Get(cmd.Context(), e.Identity); err == nil && local == nil {
				line += dimStyle.Render("  (deleted locally)")
			}
			fmt.Printf("%s  %s\n", line, dimStyle.Render("queued "+output.FormatTimeAgo(e.QueuedAt)))
		}
		return nil
	},
}

// kindLine renders a pushed change for watch output.
func kindLine(k models.Kind) string {
	return fmt.Sprintf("%s %s changed  %s", pullArrow, output.FormatKind(k), dimStyle.Render(time.Now().Format(time.TimeOnly)))
}

func init() {
	rootCmd.AddCommand(syncCmd, reconcileCmd, conflictsCmd)

	syncCmd.Flags().Bool("push", false, "only upload pending changes")
	syncCmd.Flags().Bool("pull", false, "only download and merge")
	syncCmd.Flags().Bool("status", false, "show sync status")
	syncCmd.MarkFlagsMutuallyExclusive("push", "pull", "status")

	conflictsCmd.Flags().Bool("json", false, "output as JSON")
}
