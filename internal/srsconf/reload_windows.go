//go:build windows

package srsconf

import "fmt"

// SRS does not ship a native reload signal on Windows; this restreamer
// targets Linux deployments per §4.9, so a config change on Windows simply
// reports an error rather than restarting the media server behind the
// caller's back.
func reloadSignal(pid int) error {
	return fmt.Errorf("srs config reload via signal is not supported on windows")
}
