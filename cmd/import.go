package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/layout"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
)

var importCmd = &cobra.Command{
	Use:   "import <layout.yaml>",
	Short: "Import a building layout from YAML",
	Long: `Creates every zone, area, cell and beacon described in a YAML layout as local
edits. The whole file is validated before anything is written. Zone image
paths are relative to the layout file.`,
	Example: `  navsync import hq.yaml
  navsync import hq.yaml --push`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		push, _ := cmd.Flags().GetBool("push")
		path := args[0]

		l, err := layout.Load(path)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		res, err := layout.Import(ctx, database, l, filepath.Dir(path))
		database.Close()
		if err != nil {
			output.Error("import stopped after %d entities: %v", res.Total, err)
			return err
		}

		output.Success("IMPORTED %d entities", res.Total)
		for _, k := range models.Kinds() {
			if n := res.Created[k]; n > 0 {
				fmt.Printf("  %s %d\n", output.FormatKind(k), n)
			}
		}

		if push {
			return runPush(cmd)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Bool("push", false, "upload the imported entities right away")
}
