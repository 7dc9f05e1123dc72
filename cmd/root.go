package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/logging"
	"github.com/marcus/navsync/internal/relay"
	"github.com/marcus/navsync/internal/retrycache"
	navsync "github.com/marcus/navsync/internal/sync"
	"github.com/marcus/navsync/internal/syncclient"
	"github.com/marcus/navsync/internal/syncconfig"
	"github.com/marcus/navsync/internal/workdir"
)

var (
	appVersion string
	baseDir    string

	cfg       *syncconfig.Config
	logCloser io.Closer
)

// SetVersion sets the version string
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "navsync",
	Short: "Offline-first sync for indoor navigation maps",
	Long: `navsync - edit zones, areas, cells and beacons offline and keep them in sync
with a shared navsync server.

Local edits are queued and uploaded in batches; conflicting records are kept
in a retry cache until reconciliation settles them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initBaseDir(cmd); err != nil {
			return err
		}
		loaded, err := syncconfig.Load(cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		logCloser, err = logging.Setup(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		autoSyncAfterMutation(cmd)
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Map Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	pf := rootCmd.PersistentFlags()
	pf.String("dir", "", "directory holding the .navsync store (default: nearest one above the current directory)")
	syncconfig.BindFlags(pf)
}

func initBaseDir(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot determine working directory: %w", err)
		}
		dir = wd
		// init creates the store where it is asked to.
		if cmd.Name() != "init" {
			dir = workdir.ResolveBaseDir(wd)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	baseDir = abs
	return nil
}

// getBaseDir returns the directory holding the local store
func getBaseDir() string {
	return baseDir
}

// dataDir is where the local store and the retry cache live.
func dataDir() string {
	return filepath.Dir(db.Path(getBaseDir()))
}

// syncSession bundles everything a sync command needs.
type syncSession struct {
	store  *db.DB
	cache  *retrycache.Cache
	client *syncclient.Client
	engine *navsync.Engine
}

var errNoAPIKey = errors.New("no API key configured (run: navsync config set api_key <key>)")

// openSyncSession opens the local store, the retry cache and an engine
// talking to the configured server. r may be nil.
func openSyncSession(r navsync.Relay) (*syncSession, error) {
	if cfg.APIKey == "" {
		return nil, errNoAPIKey
	}
	if err := syncconfig.EnsureDeviceID(cfg); err != nil {
		return nil, err
	}

	store, err := db.Open(getBaseDir())
	if err != nil {
		return nil, err
	}
	cache, err := retrycache.Open(filepath.Join(dataDir(), retrycache.FileName))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open retry cache: %w", err)
	}

	client := syncclient.New(cfg.ServerURL, cfg.APIKey, cfg.DeviceID)
	client.PageSize = cfg.PageSize
	client.Compress = cfg.Compress

	if r == nil {
		r = relay.Logger{}
	}
	engine, err := navsync.New(navsync.Config{
		Local:             store,
		Remote:            client,
		Cache:             cache,
		Relay:             r,
		BatchLimit:        cfg.BatchLimit,
		ReconcileInterval: cfg.ReconcileInterval,
		PushInterval:      cfg.PushInterval,
	})
	if err != nil {
		cache.Close()
		store.Close()
		return nil, err
	}
	return &syncSession{store: store, cache: cache, client: client, engine: engine}, nil
}

// Close waits for background uploads before releasing the stores.
func (s *syncSession) Close() {
	s.engine.Close()
	s.cache.Close()
	s.store.Close()
}
