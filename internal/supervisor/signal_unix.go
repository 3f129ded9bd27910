//go:build !windows

package supervisor

import "syscall"

var terminateSignal = syscall.SIGTERM
