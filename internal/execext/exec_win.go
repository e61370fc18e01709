//go:build windows

package execext

import "syscall"

func ProcAttributes() *syscall.SysProcAttr {
	return nil
}
