package main

import (
	"fmt"
	"strconv"

	"github.com/appsworld/go-dyld/bootstrap"
	"github.com/spf13/cobra"
)

var dladdrCmd = &cobra.Command{
	Use:   "dladdr <main-executable> <address>",
	Short: "Launch a main executable and resolve an address to its owning image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mainPath := args[0]
		addr, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[1], err)
		}

		result, err := bootstrap.Launch(mainPath, []string{"executable_path=" + mainPath})
		if err != nil {
			return fmt.Errorf("launch failed: %w", err)
		}

		img := result.Registry.Lookup(addr)
		if img == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%#x: no mapped image contains this address\n", addr)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#x -> %s (slide %#x)\n", addr, img.Path, img.Slide)
		return nil
	},
}
