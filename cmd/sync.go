package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/output"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push unsynced local records to the remote store",
	Long: `Runs one sync cycle: checks connectivity, reads every unsynced record and
upserts each non-empty table. Tables that fail stay unsynced and are retried
on the next cycle. If another cardsync process is syncing, this is a no-op.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		lock, err := db.AcquireSyncLock(cfg.Local.Dir, 0)
		if err != nil {
			if errors.Is(err, db.ErrLockHeld) {
				if jsonOutput {
					output.JSONError(output.ErrCodeLockHeld, "another sync is in progress")
				} else {
					output.Warning("another sync is in progress, skipping")
				}
				return nil
			}
			output.Error("sync lock: %v", err)
			return err
		}
		defer lock.Release()

		eng, err := openEngine(cfg)
		if err != nil {
			if jsonOutput {
				output.JSONError(output.ErrCodeConfigError, err.Error())
			} else {
				output.Error("%v", err)
			}
			return err
		}
		defer eng.close()

		summary := eng.orch.Run(cmd.Context())
		recordHistory(eng.store, summary)

		if jsonOutput {
			if err := output.JSON(output.NewSummaryJSON(summary)); err != nil {
				return err
			}
		} else {
			fmt.Println(output.FormatSummary(summary))
		}

		if strict {
			return strictResult(summary)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("strict", false, "Exit non-zero when any table fails")
	syncCmd.Flags().Bool("json", false, "JSON output")
}
