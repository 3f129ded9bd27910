//go:build !windows

package srsconf

import "syscall"

func reloadSignal(pid int) error {
	return syscall.Kill(pid, syscall.SIGHUP)
}
