package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// trashTimeout bounds a single trash helper invocation.
const trashTimeout = 30 * time.Second

// moveToTrash moves replaced output to the desktop trash: Finder on macOS,
// gio or trash-put on Linux. Without a helper the directory is deleted.
func moveToTrash(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot trash %q: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path for %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), trashTimeout)
	defer cancel()

	for _, argv := range trashCommands(abs) {
		bin, err := exec.LookPath(argv[0])
		if err != nil {
			continue
		}
		if err := exec.CommandContext(ctx, bin, argv[1:]...).Run(); err == nil {
			return nil
		}
	}
	return fallbackDelete(abs)
}

func trashCommands(path string) [][]string {
	switch runtime.GOOS {
	case "darwin":
		return [][]string{{"osascript", "-e", fmt.Sprintf(`tell application "Finder" to delete POSIX file %q`, path)}}
	case "linux":
		return [][]string{{"gio", "trash", path}, {"trash-put", path}}
	default:
		return nil
	}
}

func fallbackDelete(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %q: %w", path, err)
	}
	return nil
}
