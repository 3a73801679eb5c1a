//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// shutdownSignals stop `beatshim run` gracefully so buffered output is
// flushed and final stats are logged. SIGHUP covers a closed terminal and
// SIGPIPE a downstream reader that went away; registering SIGPIPE also turns
// a broken stdout into a write error instead of killing the process.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPIPE}
