package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <identity>...",
	Aliases: []string{"rm"},
	Short:   "Delete entities",
	Long: `Deletes entities and queues the deletions for upload. An entity that still
owns children is refused unless --cascade is given, which deletes the whole
subtree, children first.`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cascade, _ := cmd.Flags().GetBool("cascade")

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		for _, arg := range args {
			id := models.Identity(arg)
			if err := id.Validate(); err != nil {
				return err
			}
			order, err := deletionOrder(ctx, database, id)
			if err != nil {
				return err
			}
			if len(order) > 1 && !cascade {
				err := fmt.Errorf("%s has %d dependent entities (use --cascade)", id, len(order)-1)
				output.Error("%v", err)
				return err
			}
			for _, victim := range order {
				if err := database.Delete(ctx, victim); err != nil {
					output.Error("delete %s: %v", victim, err)
					return err
				}
				fmt.Printf("DELETED %s\n", victim)
			}
		}
		return nil
	},
}

// deletionOrder lists id and every entity below it, deepest first, so no
// entity outlives its parent.
func deletionOrder(ctx context.Context, database *db.DB, id models.Identity) ([]models.Identity, error) {
	var order []models.Identity
	seen := make(map[models.Identity]bool)
	var walk func(models.Identity) error
	walk = func(cur models.Identity) error {
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		children, err := database.FindByParent(ctx, cur)
		if err != nil {
			return fmt.Errorf("find children of %s: %w", cur, err)
		}
		for _, c := range children {
			if err := walk(c.Identity()); err != nil {
				return err
			}
		}
		order = append(order, cur)
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}
	return order, nil
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().Bool("cascade", false, "also delete every dependent entity")
}
