//go:build !unix

package runner

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
