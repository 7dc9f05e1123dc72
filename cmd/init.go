package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/output"
	"github.com/marcus/navsync/internal/syncconfig"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a local navsync store",
	Long:    `Creates the local .navsync directory and SQLite database, and assigns this device an id.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(db.Path(baseDir)); err == nil {
			output.Warning(".navsync/ already exists")
			return nil
		}

		database, err := db.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		fmt.Println("INITIALIZED .navsync/")
		addToGitignore(filepath.Join(baseDir, ".gitignore"))

		if err := syncconfig.EnsureDeviceID(cfg); err != nil {
			output.Warning("could not assign a device id: %v", err)
			return nil
		}
		fmt.Printf("Device: %s\n", cfg.DeviceID)
		if cfg.APIKey == "" {
			fmt.Println("Next: navsync config set api_key <key>")
		}
		return nil
	},
}

// addToGitignore appends .navsync/ to an existing .gitignore.
func addToGitignore(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if strings.Contains(string(content), ".navsync/") {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		f.WriteString("\n")
	}
	f.WriteString(".navsync/\n")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
