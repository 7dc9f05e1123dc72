package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// mutatingCommands lists commands that modify local data and should trigger auto-sync.
var mutatingCommands = map[string]bool{
	"create": true,
	"update": true,
	"delete": true,
	"import": true,
}

// autoSyncTimeout bounds the post-mutation push so a slow or absent server
// never holds the terminal for long.
const autoSyncTimeout = 5 * time.Second

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// topLevelName returns the name of the root's child that cmd belongs to, so
// "create zone" counts as "create".
func topLevelName(cmd *cobra.Command) string {
	for cmd.HasParent() && cmd.Parent() != cmd.Root() {
		cmd = cmd.Parent()
	}
	return cmd.Name()
}

// autoSyncEnabled reports whether a push should follow local mutations:
// auto_sync must be on and an API key configured.
func autoSyncEnabled() bool {
	return cfg != nil && cfg.AutoSync && cfg.APIKey != ""
}

// autoSyncAfterMutation pushes the pending change-set after a mutating
// command completes. The upload runs on the engine's background path and is
// waited for before returning. Errors are logged, not returned.
func autoSyncAfterMutation(cmd *cobra.Command) {
	if !isMutatingCommand(topLevelName(cmd)) || !autoSyncEnabled() {
		return
	}

	s, err := openSyncSession(nil)
	if err != nil {
		slog.Debug("autosync: open session", "err", err)
		return
	}
	defer s.Close()
	s.client.HTTP.Timeout = autoSyncTimeout

	ctx, cancel := context.WithTimeout(context.Background(), autoSyncTimeout)
	defer cancel()
	cs, err := s.store.ChangedIdentities(ctx)
	if err != nil {
		slog.Debug("autosync: read change set", "err", err)
		return
	}
	if cs.Empty() {
		return
	}
	slog.Debug("autosync: pushing", "upserts", len(cs.Upserted), "deletes", len(cs.Deleted))
	s.engine.UploadAsync(cs.Upserted, cs.Deleted)
}
