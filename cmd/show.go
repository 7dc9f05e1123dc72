package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
)

var showCmd = &cobra.Command{
	Use:     "show <identity>",
	Aliases: []string{"view"},
	Short:   "Show an entity and its children",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jsonOut, _ := cmd.Flags().GetBool("json")
		id := models.Identity(args[0])
		if err := id.Validate(); err != nil {
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		e, err := database.Get(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			err := fmt.Errorf("%w: %s", db.ErrNotFound, id)
			output.Error("%v", err)
			return err
		}

		if jsonOut {
			return output.JSON(e.ToWire())
		}

		children, err := database.FindByParent(ctx, id)
		if err != nil {
			return err
		}
		rendered, err := output.RenderMarkdown(output.EntityMarkdown(e, children))
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("json", false, "output the wire record as JSON")
}
