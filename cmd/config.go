package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/output"
	"github.com/marcus/navsync/internal/syncconfig"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or change client configuration",
	Long:    `Values resolve from flags, then NAVSYNC_* environment variables, then ~/.config/navsync/config.json, then defaults.`,
	GroupID: "system",
	// A broken config file must not lock the user out of fixing it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initBaseDir(cmd)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resolved configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		c, err := syncconfig.Load(cmd.Flags())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		values := c.Values()
		if jsonOut {
			m := make(map[string]string, len(values))
			for _, kv := range values {
				m[kv[0]] = kv[1]
			}
			return output.JSON(m)
		}
		for _, kv := range values {
			fmt.Printf("%-20s %s\n", kv[0], kv[1])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := syncconfig.Get(cmd.Flags(), args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one configuration value to the config file",
	Long:  "Keys: " + strings.Join(syncconfig.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.Set(args[0], args[1]); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("SET %s", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := syncconfig.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPathCmd)
	configListCmd.Flags().Bool("json", false, "output as JSON")
}
