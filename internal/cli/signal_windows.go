//go:build windows

package cli

import (
	"os"
	"syscall"
)

// shutdownSignals stop `beatshim run` gracefully. os.Interrupt is Ctrl+C or
// Ctrl+Break; the runtime reports closing the console, logoff and system
// shutdown as SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
