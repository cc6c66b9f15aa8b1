package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dyldsim",
	Short: "Simulates the dyld launch sequence over a Mach-O executable",
	Long: `dyldsim maps a main executable and its dependencies the way the real
linker does at process launch: recursive load, rebase, bind, weak-symbol
coalescing, interposition, and initializer ordering, then reports what it
did. It reads the same DYLD_* environment variables the real linker does.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(dladdrCmd)
}
