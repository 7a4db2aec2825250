package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/output"
	cardsync "github.com/marcus/cardsync/internal/sync"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show recent sync cycles",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if limit <= 0 {
			output.Error("--limit must be positive")
			return fmt.Errorf("invalid limit %d", limit)
		}

		store, err := db.Open(cfg.Local.Dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		entries, err := store.GetSyncHistoryTail(cmd.Context(), limit)
		if err != nil {
			output.Error("read sync history: %v", err)
			return err
		}

		if jsonOutput {
			if entries == nil {
				entries = []db.SyncHistoryEntry{}
			}
			return output.JSON(entries)
		}
		fmt.Println(output.FormatHistory(entries))
		return nil
	},
}

// outcomeOf returns the outcome shared by the rows of one cycle.
func outcomeOf(cycle []db.SyncHistoryEntry) cardsync.Outcome {
	if len(cycle) == 0 {
		return ""
	}
	return cardsync.Outcome(cycle[0].Outcome)
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Number of history rows to show")
	historyCmd.Flags().Bool("json", false, "JSON output")
}
