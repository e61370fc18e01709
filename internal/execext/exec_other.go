//go:build !windows

package execext

import "syscall"

// ProcAttributes returns the attributes used to spawn pipeline stages. Each
// stage starts in its own session so an interrupt sent to the orchestrator
// does not take down daemons it still has to shut down in order.
func ProcAttributes() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
