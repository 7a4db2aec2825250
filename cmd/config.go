package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/output"
	"github.com/marcus/cardsync/internal/syncconfig"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage cardsync configuration",
	GroupID: "system",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		pairs := cfg.Display()
		if jsonOutput {
			m := make(map[string]string, len(pairs))
			for _, kv := range pairs {
				m[kv[0]] = kv[1]
			}
			return output.JSON(m)
		}
		fmt.Printf("# %s\n", cfg.Path)
		fmt.Println(output.FormatKeyValues(pairs))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		if err := syncconfig.Set(cfg.Path, key, val); err != nil {
			output.Error("%v", err)
			if errors.Is(err, syncconfig.ErrUnknownKey) {
				fmt.Println("Valid keys:", strings.Join(syncconfig.Keys(), ", "))
			}
			return err
		}
		output.Success("Set %s", key)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(cfg.Path)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
	configShowCmd.Flags().Bool("json", false, "JSON output")
}
