// tipsync is a shared treatment-schedule tracker: cycles, dose items,
// and per-user consumption logs replicated across every device bound to
// the same room, with a durable local cache for offline use.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
