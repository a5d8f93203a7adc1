package logging_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/logging"
)

// Tests in this file share the package's global state and do not run in
// parallel.

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(data)
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr error
	}{
		{name: "defaults", cfg: logging.Config{Level: "info"}},
		{name: "debug with console", cfg: logging.Config{Level: "debug", ConsoleLevel: "warn"}},
		{name: "tui mode", cfg: logging.Config{Level: "info", ConsoleLevel: "info", TUIMode: true}},
		{name: "bad level", cfg: logging.Config{Level: "loud"}, wantErr: logging.ErrInvalidLevel},
		{name: "bad component level", cfg: logging.Config{Components: map[string]string{"guard": "x"}}, wantErr: logging.ErrInvalidLevel},
		{name: "bad console level", cfg: logging.Config{ConsoleLevel: "x"}, wantErr: logging.ErrInvalidLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Path = filepath.Join(t.TempDir(), "easscan.log")
			err := logging.Init(tt.cfg)
			defer logging.Close()

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Init() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if _, err := os.Stat(tt.cfg.Path); err != nil {
				t.Errorf("log file not created: %v", err)
			}
			if got := logging.GetLogBuffer() != nil; got != tt.cfg.TUIMode {
				t.Errorf("GetLogBuffer() != nil = %v, want %v", got, tt.cfg.TUIMode)
			}
		})
	}
}

func TestGetReturnsSameLogger(t *testing.T) {
	a := logging.Get("scheduler")
	b := logging.Get("scheduler")
	if a != b {
		t.Error("Get() returned different loggers for one component")
	}
	if a.Component() != "scheduler" {
		t.Errorf("Component() = %q, want %q", a.Component(), "scheduler")
	}
	if logging.Get("guard") == a {
		t.Error("Get() returned the same logger for different components")
	}
}

func TestLoggerBeforeInitIsSwitchedOver(t *testing.T) {
	logger := logging.Get("early")
	logger.Info("dropped before init")

	path := filepath.Join(t.TempDir(), "early.log")
	if err := logging.Init(logging.Config{Level: "info", Path: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logger.Info("written after init", "targets", 3)
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	logger.Info("dropped after close")

	content := readLog(t, path)
	if strings.Contains(content, "dropped") {
		t.Errorf("log contains messages outside Init/Close:\n%s", content)
	}
	if !strings.Contains(content, "written after init") || !strings.Contains(content, "targets=3") {
		t.Errorf("log missing message or fields:\n%s", content)
	}
	if !strings.Contains(content, "early") {
		t.Errorf("log missing component prefix:\n%s", content)
	}
}

func TestLogLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.log")
	if err := logging.Init(logging.Config{Level: "warn", Path: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logger := logging.Get("levels")
	logger.Debug("debug hidden")
	logger.Info("info hidden")
	logger.Warn("warn shown")
	logger.Error("error shown")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content := readLog(t, path)
	for _, hidden := range []string{"debug hidden", "info hidden"} {
		if strings.Contains(content, hidden) {
			t.Errorf("log contains %q at level warn", hidden)
		}
	}
	for _, shown := range []string{"warn shown", "error shown"} {
		if !strings.Contains(content, shown) {
			t.Errorf("log missing %q at level warn", shown)
		}
	}
}

func TestComponentLevelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "component.log")
	cfg := logging.Config{
		Level:      "error",
		Path:       path,
		Components: map[string]string{"guard": "debug"},
	}
	if err := logging.Init(cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logging.Get("executor").Info("executor info hidden")
	logging.Get("guard").Debug("guard debug shown")

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content := readLog(t, path)
	if strings.Contains(content, "executor info hidden") {
		t.Error("executor info should not appear at default level error")
	}
	if !strings.Contains(content, "guard debug shown") {
		t.Error("guard debug should appear with component level debug")
	}
}

func TestSubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribe.log")
	if err := logging.Init(logging.Config{Level: "info", Path: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer logging.Close()

	ch := logging.Subscribe()
	logging.Get("subtest").Debug("below level")
	logging.Get("subtest").Warn("host busy", "cpu", 91.5)

	select {
	case e := <-ch:
		if e.Message != "host busy" {
			t.Errorf("Message = %q, want %q", e.Message, "host busy")
		}
		if e.Component != "subtest" {
			t.Errorf("Component = %q, want %q", e.Component, "subtest")
		}
		if e.Level != logging.LevelWarn {
			t.Errorf("Level = %v, want %v", e.Level, logging.LevelWarn)
		}
		if e.Fields != "cpu=91.5" {
			t.Errorf("Fields = %q, want %q", e.Fields, "cpu=91.5")
		}
		if !strings.Contains(e.String(), "WARN  subtest: host busy cpu=91.5") {
			t.Errorf("String() = %q", e.String())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for log entry")
	}

	logging.Unsubscribe(ch)
	logging.Get("subtest").Warn("after unsubscribe")
	select {
	case e := <-ch:
		t.Errorf("received %q after Unsubscribe", e.Message)
	default:
	}
}

func TestTUIModeBuffersEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tui.log")
	if err := logging.Init(logging.Config{Level: "info", Path: path, TUIMode: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer logging.Close()

	logging.Get("scheduler").Info("throttling", "workers", 2)

	buf := logging.GetLogBuffer()
	if buf == nil {
		t.Fatal("GetLogBuffer() = nil in TUI mode")
	}
	got := buf.Last(1)
	if len(got) != 1 || got[0].Message != "throttling" || got[0].Fields != "workers=2" {
		t.Errorf("Last(1) = %+v", got)
	}
}

func TestConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.log")
	if err := logging.Init(logging.Config{Level: "debug", Path: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	const goroutines, messages = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger := logging.Get("concurrent")
			for j := 0; j < messages; j++ {
				logger.Info("message", "goroutine", id, "index", j)
			}
		}(i)
	}
	wg.Wait()

	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(readLog(t, path)), "\n")
	if len(lines) != goroutines*messages {
		t.Errorf("log lines = %d, want %d", len(lines), goroutines*messages)
	}
}

func TestDefaultLogPath(t *testing.T) {
	path := logging.DefaultLogPath()
	if !strings.HasSuffix(path, filepath.Join("easscan", "easscan.log")) {
		t.Errorf("DefaultLogPath() = %q, want suffix easscan/easscan.log", path)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{" error ", logging.LevelError, false},
		{"verbose", logging.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if logging.Level(42).String() != "unknown" {
		t.Errorf("Level(42).String() = %q, want unknown", logging.Level(42).String())
	}
}
