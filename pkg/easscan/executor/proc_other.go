//go:build !unix

package executor

import "os/exec"

// setProcessGroup falls back to killing only the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
