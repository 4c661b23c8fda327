// Command registration runs the registration lifecycle daemon and its
// maintenance jobs.
package main

import (
	"os"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
