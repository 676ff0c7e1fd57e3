// Command gcctl is a thin CLI wrapper around usecases/gc: it wires the
// reclaim engine to the in-memory demo backend and exposes lifecycle and
// one-shot operations over it.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	log := logrus.StandardLogger()

	root := &cobra.Command{
		Use:   "gcctl",
		Short: "Control a segment-reclaim engine mounted against the in-memory demo backend.",
	}

	root.AddCommand(
		newStartCmd(log),
		newTriggerCmd(log),
	)
	return root
}
