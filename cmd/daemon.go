package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/autosync"
	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/output"
	cardsync "github.com/marcus/cardsync/internal/sync"
	"github.com/marcus/cardsync/internal/syncconfig"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync in the background until interrupted",
	Long: `Runs the auto-sync loop: on start, every auto.interval, when the network
comes back and shortly after local records are written. Stops on SIGINT or
SIGTERM after the in-flight cycle is cancelled.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Auto.Enabled {
			output.Warning("auto-sync is disabled (auto.enabled=false)")
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := openEngine(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer eng.close()

		runner := newRunner(cfg, eng)
		if err := runner.Start(ctx); err != nil {
			output.Error("start auto-sync: %v", err)
			return err
		}
		slog.Info("daemon: running", "dir", cfg.Local.Dir, "backend", cfg.Remote.Backend)

		<-ctx.Done()
		slog.Info("daemon: shutting down")

		if err := runner.Stop(); err != nil {
			slog.Error("daemon: stop", "err", err)
		}
		snap := eng.metrics.Snapshot()
		slog.Info("daemon: stopped",
			"cycles", snap.Cycles,
			"pushed", snap.RecordsPushed,
			"table_failures", snap.TableFailures,
			"offline_skips", snap.OfflineSkips)
		return nil
	},
}

// newRunner wires the auto-sync runner to the engine with c's settings.
func newRunner(c *syncconfig.Config, eng *engine) *autosync.Runner {
	rc := autosync.Config{
		OnStart:       c.Auto.OnStart,
		Interval:      c.Auto.Interval,
		ReconnectPoll: c.Auto.ReconnectPoll,
		Debounce:      c.Auto.Debounce,
		QuietWindow:   c.Auto.Debounce,
		LockDir:       c.Local.Dir,
	}
	if c.Auto.WatchDB {
		rc.WatchPath = db.Path(c.Local.Dir)
	}
	return autosync.New(rc, eng.orch, eng.store,
		autosync.WithMonitor(eng.monitor),
		autosync.WithLogger(slog.Default()),
		autosync.WithRunHook(func(reason autosync.Trigger, s cardsync.CycleSummary) {
			slog.Info("daemon: cycle",
				"reason", reason,
				"outcome", s.Outcome,
				"pushed", s.Pushed(),
				"failed", s.Failed())
		}),
	)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
