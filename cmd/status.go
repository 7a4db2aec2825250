package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
	"github.com/marcus/cardsync/internal/output"
)

// statusResult is the --json shape of `cardsync status`.
type statusResult struct {
	Pending      map[models.Table]int  `json:"pending"`
	Connectivity *netmon.State         `json:"connectivity,omitempty"`
	CheckError   string                `json:"check_error,omitempty"`
	Backend      string                `json:"backend"`
	LastCycle    []db.SyncHistoryEntry `json:"last_cycle,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show pending records, connectivity and the last sync",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		offline, _ := cmd.Flags().GetBool("no-probe")

		store, err := db.Open(cfg.Local.Dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		pending, err := store.CountPending(ctx)
		if err != nil {
			output.Error("count pending: %v", err)
			return err
		}
		last, err := store.LastSyncCycle(ctx)
		if err != nil {
			output.Error("read sync history: %v", err)
			return err
		}

		result := statusResult{Pending: pending, Backend: cfg.Remote.Backend, LastCycle: last}
		if !offline {
			state, err := checkConnectivity(ctx)
			if err != nil {
				result.CheckError = err.Error()
			} else {
				result.Connectivity = &state
			}
		}

		if jsonOutput {
			return output.JSON(result)
		}

		fmt.Println(output.FormatPending(pending))
		fmt.Println()
		switch {
		case result.Connectivity != nil:
			fmt.Printf("Network: %s\n", output.FormatConnectivity(*result.Connectivity))
		case result.CheckError != "":
			output.Warning("connectivity check failed: %s", result.CheckError)
		}
		fmt.Printf("Backend: %s\n", cfg.Remote.Backend)
		if len(last) == 0 {
			fmt.Println("Last sync: never")
		} else {
			fmt.Printf("Last sync: %s %s\n", output.FormatTimeAgo(last[0].CycleAt), output.FormatOutcome(outcomeOf(last)))
		}
		return nil
	},
}

func checkConnectivity(ctx context.Context) (netmon.State, error) {
	monitor, err := newMonitor(cfg)
	if err != nil {
		return netmon.State{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Network.ProbeTimeout+time.Second)
	defer cancel()
	return monitor.CheckConnectivity(ctx)
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "JSON output")
	statusCmd.Flags().Bool("no-probe", false, "Skip the connectivity check")
}
