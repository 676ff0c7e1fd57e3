package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newTriggerCmd runs exactly one gc(sbi, sync) burst against a freshly
// built demo mount and reports its outcome (spec.md §6 "gc(sbi, sync:
// bool) -> {0, -EAGAIN, -EINVAL}").
func newTriggerCmd(log *logrus.Logger) *cobra.Command {
	var sync bool

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run a single reclaim burst against a freshly built demo mount.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := buildEnv(log)
			err := e.driver.Gc(cmd.Context(), sync)

			entry := log.WithFields(logrus.Fields{
				"sync":                sync,
				"checkpoints_forced":  e.checkpoint.Forced(),
				"segments_considered": demoMainSegs,
			})
			switch err {
			case nil:
				entry.Info("reclaim burst completed")
			default:
				entry.WithError(err).Warn("reclaim burst did not complete cleanly")
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "force foreground mode and a post-pass checkpoint")
	return cmd
}
