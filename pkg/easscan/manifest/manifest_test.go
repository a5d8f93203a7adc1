package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

func setupTestManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "manifests"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func sampleResults() []types.ScanResult {
	zero, one := 0, 1
	return []types.ScanResult{
		{Target: "a.com", State: types.StateSucceeded, Duration: time.Second, ExitStatus: &zero, OutputPath: "/o/a.com/testssl/testssl.json"},
		{Target: "b.com", State: types.StateFailed, Duration: 2 * time.Second, ExitStatus: &one, Diagnostic: "exit 1"},
		{Target: "c.com", State: types.StateTimedOut, Duration: 3 * time.Second},
		{Target: "d.com", State: types.StateCancelled},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates manifest with valid directory", func(t *testing.T) {
		t.Parallel()
		m, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v, want nil", err)
		}
		if m == nil {
			t.Fatal("New() returned nil")
		}
	})

	t.Run("returns error for empty directory", func(t *testing.T) {
		t.Parallel()
		if _, err := New(""); err == nil {
			t.Fatal("New() error = nil, want error for empty directory")
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize(Records(sampleResults()), 2)
	want := Summary{Total: 6, Succeeded: 1, Failed: 1, TimedOut: 1, Cancelled: 1, Skipped: 2}
	if s != want {
		t.Errorf("Summarize() = %+v, want %+v", s, want)
	}
}

func TestManifest_Log(t *testing.T) {
	t.Parallel()

	t.Run("fills ID, timestamp and summary", func(t *testing.T) {
		t.Parallel()
		m := setupTestManifest(t)

		entry, err := m.Log(&Entry{Tool: "testssl", Records: Records(sampleResults())})
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if entry.ID == "" {
			t.Error("ID is empty")
		}
		if entry.Timestamp.IsZero() {
			t.Error("Timestamp is zero")
		}
		if entry.Summary.Total != 4 {
			t.Errorf("Summary.Total = %d, want 4", entry.Summary.Total)
		}
	})

	t.Run("keeps a caller supplied ID", func(t *testing.T) {
		t.Parallel()
		m := setupTestManifest(t)
		id := NewID()

		entry, err := m.Log(&Entry{ID: id})
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if entry.ID != id {
			t.Errorf("ID = %s, want %s", entry.ID, id)
		}
	})

	t.Run("persists entry to file", func(t *testing.T) {
		t.Parallel()
		m := setupTestManifest(t)

		entry, err := m.Log(&Entry{Tool: "httpx", Records: Records(sampleResults()[:1])})
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}

		got, err := m.Get(entry.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Tool != "httpx" {
			t.Errorf("Tool = %q, want httpx", got.Tool)
		}
		if len(got.Records) != 1 || got.Records[0].State != types.StateSucceeded {
			t.Errorf("Records = %+v, want one succeeded record", got.Records)
		}
		if got.Records[0].ExitStatus == nil || *got.Records[0].ExitStatus != 0 {
			t.Errorf("ExitStatus = %v, want 0", got.Records[0].ExitStatus)
		}

		files, _ := os.ReadDir(m.Dir())
		if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "run-") {
			t.Errorf("unexpected manifest files: %v", files)
		}
	})
}

func TestManifest_List(t *testing.T) {
	t.Parallel()

	t.Run("returns entries newest first", func(t *testing.T) {
		t.Parallel()
		m := setupTestManifest(t)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		for i, tool := range []string{"first", "second", "third"} {
			if _, err := m.Log(&Entry{Tool: tool, Timestamp: base.Add(time.Duration(i) * time.Hour)}); err != nil {
				t.Fatalf("Log() error = %v", err)
			}
		}

		entries, err := m.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("len(entries) = %d, want 3", len(entries))
		}
		if entries[0].Tool != "third" || entries[2].Tool != "first" {
			t.Errorf("order = %s,%s,%s", entries[0].Tool, entries[1].Tool, entries[2].Tool)
		}

		limited, err := m.List(2)
		if err != nil {
			t.Fatalf("List(2) error = %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("len(List(2)) = %d, want 2", len(limited))
		}
	})

	t.Run("missing directory is empty", func(t *testing.T) {
		t.Parallel()
		m := setupTestManifest(t)

		entries, err := m.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if entries == nil || len(entries) != 0 {
			t.Errorf("List() = %v, want empty slice", entries)
		}
	})

	t.Run("skips unparseable files", func(t *testing.T) {
		t.Parallel()
		m := setupTestManifest(t)
		if _, err := m.Log(&Entry{Tool: "ok"}); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if err := os.WriteFile(filepath.Join(m.Dir(), "broken.json"), []byte("{"), 0o644); err != nil {
			t.Fatal(err)
		}

		entries, err := m.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("len(entries) = %d, want 1", len(entries))
		}
	})
}

func TestManifest_Get(t *testing.T) {
	t.Parallel()

	m := setupTestManifest(t)
	a, _ := m.Log(&Entry{ID: "abc123"})
	if _, err := m.Log(&Entry{ID: "abd456"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		id      string
		wantID  string
		wantErr error
	}{
		{"exact", "abc123", a.ID, nil},
		{"unique prefix", "abc", a.ID, nil},
		{"ambiguous prefix", "ab", "", ErrAmbiguous},
		{"missing", "zzz", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Get(tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Get(%q) error = %v, want %v", tt.id, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get(%q) error = %v", tt.id, err)
			}
			if got.ID != tt.wantID {
				t.Errorf("Get(%q).ID = %s, want %s", tt.id, got.ID, tt.wantID)
			}
		})
	}

	if _, err := m.Get(""); err == nil {
		t.Error("Get(\"\") error = nil, want error")
	}
}

func TestManifest_Cleanup(t *testing.T) {
	t.Parallel()

	m := setupTestManifest(t)
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, _ := m.Log(&Entry{Timestamp: now.Add(-45 * types.Day)})
	recent, _ := m.Log(&Entry{Timestamp: now.Add(-2 * types.Day)})

	removed, err := m.Cleanup(30 * types.Day)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != old.ID {
		t.Errorf("removed = %v, want [%s]", removed, old.ID)
	}

	entries, _ := m.List(0)
	if len(entries) != 1 || entries[0].ID != recent.ID {
		t.Errorf("remaining = %v, want only %s", entries, recent.ID)
	}
}

func TestManifest_ConcurrentLog(t *testing.T) {
	t.Parallel()

	m := setupTestManifest(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Log(&Entry{Tool: "concurrent"}); err != nil {
				t.Errorf("Log() error = %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := m.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("len(entries) = %d, want 10", len(entries))
	}
}
