//go:build windows

package process

import (
	"os/exec"
	"testing"
)

func assertSetpgid(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
}
