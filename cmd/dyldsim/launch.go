package main

import (
	"fmt"
	"os"

	"github.com/appsworld/go-dyld/bootstrap"
	"github.com/spf13/cobra"
)

var launchVerbose bool

var launchCmd = &cobra.Command{
	Use:   "launch <main-executable>",
	Short: "Load and link a main executable, then report the resulting image set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mainPath := args[0]
		if launchVerbose {
			for _, v := range []string{
				"DYLD_PRINT_LIBRARIES", "DYLD_PRINT_BINDINGS",
				"DYLD_PRINT_REBASINGS", "DYLD_PRINT_INITIALIZERS",
			} {
				os.Setenv(v, "1")
			}
		}

		apple := []string{"executable_path=" + mainPath}
		result, err := bootstrap.Launch(mainPath, apple)
		if err != nil {
			return fmt.Errorf("launch failed: %w", err)
		}

		info := result.Registry.Snapshot(0)
		fmt.Fprintf(cmd.OutOrStdout(), "launched %s: %d images mapped\n", mainPath, len(info.InfoArray))
		for _, img := range info.InfoArray {
			fmt.Fprintf(cmd.OutOrStdout(), "  %#016x  %s\n", img.LoadAddress, img.FilePath)
		}
		return nil
	},
}

func init() {
	launchCmd.Flags().BoolVarP(&launchVerbose, "verbose", "v", false, "enable DYLD_PRINT_* style tracing")
}
