package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked reports that another open store holds the database directory.
var ErrLocked = errors.New("result store is in use")

// lockFile is where badger records the PID of the process holding the
// directory lock.
const lockFile = "LOCK"

// lockHolder returns the PID recorded in the lock file of dir when that
// process is alive.
func lockHolder(dir string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dir, lockFile))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processRunning(pid)
}

// processRunning checks if a process with the given PID is running.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
