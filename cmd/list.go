package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list [kind]",
	Aliases: []string{"ls"},
	Short:   "List entities",
	Long:    `Lists entities of one kind, the children of --parent, or everything in dependency order.`,
	Example: `  navsync list zone
  navsync list --parent Zone.3c1e...
  navsync list --json`,
	GroupID: "core",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		parent, _ := cmd.Flags().GetString("parent")
		jsonOut, _ := cmd.Flags().GetBool("json")
		placeholders, _ := cmd.Flags().GetBool("placeholders")

		kinds := models.Kinds()
		if len(args) == 1 {
			k, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			kinds = []models.Kind{k}
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		var entities []models.Entity
		if parent != "" {
			children, err := database.FindByParent(ctx, models.Identity(parent))
			if err != nil {
				return err
			}
			for _, e := range children {
				if len(args) == 0 || e.Kind() == kinds[0] {
					entities = append(entities, e)
				}
			}
		} else {
			for _, k := range kinds {
				es, err := database.List(ctx, k)
				if err != nil {
					return err
				}
				entities = append(entities, es...)
			}
		}

		if placeholders {
			filtered := entities[:0]
			for _, e := range entities {
				if e.IsPlaceholder() {
					filtered = append(filtered, e)
				}
			}
			entities = filtered
		}

		if jsonOut {
			records := make([]models.WireRecord, 0, len(entities))
			for _, e := range entities {
				records = append(records, e.ToWire())
			}
			return output.JSON(records)
		}

		if len(entities) == 0 {
			fmt.Println("No entities found")
			return nil
		}
		for _, e := range entities {
			fmt.Println(output.FormatEntityShort(e))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("parent", "", "only list children of this entity")
	listCmd.Flags().Bool("placeholders", false, "only list placeholders awaiting their record")
	listCmd.Flags().Bool("json", false, "output wire records as JSON")
}
