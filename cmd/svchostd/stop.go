package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/svchost/internal/config"
	"github.com/nupi-ai/svchost/internal/procutil"
)

func newStopCommand(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon of this instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid := procutil.ReadPIDFile(config.GetInstancePaths(global.instance).PIDFile)
			if pid == 0 {
				return fmt.Errorf("svchostd is not running for instance %q", global.instance)
			}
			if err := procutil.TerminateByPID(pid); err != nil {
				return fmt.Errorf("stop pid %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent stop signal to pid %d\n", pid)
			return nil
		},
	}
}
