//go:build windows

package main

import (
	"fmt"
	"os"
)

// terminationSignals lists the signals that should trigger a graceful shutdown.
// Windows primarily uses os.Interrupt (Ctrl+C).
var terminationSignals = []os.Signal{os.Interrupt}

func shutdownInitiator() string {
	return fmt.Sprintf("pid %d", os.Getppid())
}
