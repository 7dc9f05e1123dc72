package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/output"
	"github.com/marcus/navsync/internal/syncclient"
	"github.com/marcus/navsync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the client version, and the server's with --server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("navsync %s\n", appVersion)

		checkServer, _ := cmd.Flags().GetBool("server")
		if !checkServer {
			return nil
		}
		health, err := syncclient.New(cfg.ServerURL, cfg.APIKey, cfg.DeviceID).HealthCheck(cmd.Context())
		if err != nil {
			output.Error("server: %v", err)
			return err
		}
		fmt.Printf("server  %s\n", health.Version)
		switch skew := version.Compare(appVersion, health.Version); skew {
		case version.SkewClientOlder, version.SkewServerOlder:
			output.Warning("%s", skew)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("server", false, "also query the server version")
}
