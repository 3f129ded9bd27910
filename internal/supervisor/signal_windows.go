//go:build windows

package supervisor

import "os"

var terminateSignal = os.Kill
