package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	gc "github.com/watersir/f2fs-change/usecases/gc"
)

// newStartCmd runs the background reclaimer loop (spec.md §4.5) in the
// foreground against a freshly built demo mount, until interrupted. This
// covers both start_gc and stop_gc: the lifecycle is the process's
// lifetime, terminated gracefully on SIGINT/SIGTERM.
func newStartCmd(log *logrus.Logger) *cobra.Command {
	var minSleep, maxSleep, noGCSleep time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the background reclaimer loop until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := buildEnv(log)
			reclaimer := gc.NewReclaimer(
				log, e.driver, e.gcMutex,
				e.conditions, e.conditions, e.conditions, e.conditions,
				gc.ReclaimerTunables{
					MinSleep:  minSleep,
					MaxSleep:  maxSleep,
					NoGCSleep: noGCSleep,
					SleepStep: minSleep,
				},
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("reclaimer started")
			reclaimer.Start(ctx)
			log.WithFields(logrus.Fields{
				"checkpoints_forced": e.checkpoint.Forced(),
				"balances_run":       e.conditions.Balanced(),
			}).Info("reclaimer stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&minSleep, "min-sleep", 2*time.Second, "minimum reclaimer wait between ticks")
	cmd.Flags().DurationVar(&maxSleep, "max-sleep", 30*time.Second, "maximum reclaimer wait between ticks")
	cmd.Flags().DurationVar(&noGCSleep, "no-gc-sleep", time.Minute, "wait used after a ForceFGGC round frees nothing; the background rounds this command runs never switch to it")
	return cmd
}
