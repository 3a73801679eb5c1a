//go:build !windows

package cli

import (
	"os"
	"syscall"
	"testing"
)

func TestShutdownSignals_StreamHangups(t *testing.T) {
	want := map[os.Signal]bool{syscall.SIGHUP: false, syscall.SIGPIPE: false}
	for _, sig := range shutdownSignals {
		if _, ok := want[sig]; ok {
			want[sig] = true
		}
	}
	for sig, found := range want {
		if !found {
			t.Errorf("expected %v in shutdown signals", sig)
		}
	}
}
