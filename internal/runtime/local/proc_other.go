//go:build !unix

package local

import "os/exec"

// ownProcessGroup is a no-op where process groups are unavailable; only
// the shell itself is killed on cancellation.
func ownProcessGroup(*exec.Cmd) {}
