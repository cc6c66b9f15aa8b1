// Command dyldsim drives the orchestrator end-to-end over a real Mach-O
// main executable, as a spf13/cobra command tree rather than a single
// ad hoc func main().
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
