//go:build !windows

package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// terminationSignals lists the signals that should trigger a graceful shutdown.
// SIGTERM is used by most process managers (systemd, kubernetes) to request shutdown.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// shutdownInitiator names the parent process, best effort.
func shutdownInitiator() string {
	ppid := os.Getppid()
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", ppid))
	if err != nil {
		return fmt.Sprintf("pid %d", ppid)
	}
	return fmt.Sprintf("%s (pid %d)", strings.TrimSpace(string(comm)), ppid)
}
