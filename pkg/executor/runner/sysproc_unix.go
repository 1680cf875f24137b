//go:build unix

package runner

import "syscall"

// Helpers get their own process group so a terminal Ctrl-C reaches only the
// main process, which then awaits them.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
