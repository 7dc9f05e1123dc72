package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
	"github.com/marcus/navsync/internal/relay"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay in sync until interrupted",
	Long: `Subscribes to the server's change feed and applies remote changes as they
arrive. Pending local edits are pushed and the retry cache is reconciled on
the configured intervals. The subscription is re-established with backoff
when it drops. Ctrl+C stops.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, _ := cmd.Flags().GetBool("pull")
		quiet, _ := cmd.Flags().GetBool("quiet")

		var r relay.Relay = relay.Logger{}
		if !quiet {
			r = relay.Multi{
				relay.Logger{},
				relay.Funcs{
					KindChanged: func(k models.Kind) { fmt.Println(kindLine(k)) },
					Log:         func(msg string) { fmt.Println(dimStyle.Render(msg)) },
				},
			}
		}

		sess, err := openSyncSession(r)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer sess.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if pull {
			if _, err := sess.engine.FullSync(ctx); err != nil {
				output.Warning("initial pull: %v", err)
			}
		}
		if report, err := sess.engine.PushPending(ctx); err != nil {
			output.Warning("initial push: %v", err)
		} else if !quiet {
			printUploadReport(report)
		}

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", cfg.ServerURL)
		if err := sess.engine.Watch(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		fmt.Println("\nStopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("pull", false, "download everything before watching")
	watchCmd.Flags().BoolP("quiet", "q", false, "only log, do not print changes")
}

