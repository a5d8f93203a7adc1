package store

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// RecordVersion is incremented when the record encoding changes.
const RecordVersion = 2

const (
	latestPrefix = "result/"
	runPrefix    = "run/"
)

// Record is the stored outcome of one target in one run.
type Record struct {
	Version    int
	RunID      string
	Tool       string
	Target     types.Target
	Index      int
	State      types.TaskState
	Duration   time.Duration
	ExitStatus *int
	OutputPath string
	Error      types.ErrorKind
	Diagnostic string
	FinishedAt time.Time
}

// NewRecord builds a record from a scan result.
func NewRecord(runID, tool string, res types.ScanResult) Record {
	return Record{
		Version:    RecordVersion,
		RunID:      runID,
		Tool:       tool,
		Target:     res.Target,
		Index:      res.Index,
		State:      res.State,
		Duration:   res.Duration,
		ExitStatus: res.ExitStatus,
		OutputPath: res.OutputPath,
		Error:      res.Error,
		Diagnostic: res.Diagnostic,
		FinishedAt: res.FinishedAt,
	}
}

// wireRecord is the gob form of a Record. Gob omits zero values, even
// behind a pointer, so the exit status is kept with an explicit flag.
type wireRecord struct {
	Version    int
	RunID      string
	Tool       string
	Target     types.Target
	Index      int
	State      types.TaskState
	Duration   time.Duration
	HasExit    bool
	ExitStatus int
	OutputPath string
	Error      types.ErrorKind
	Diagnostic string
	FinishedAt time.Time
}

// Encode serializes the record using gob.
func (r *Record) Encode() ([]byte, error) {
	w := wireRecord{
		Version:    r.Version,
		RunID:      r.RunID,
		Tool:       r.Tool,
		Target:     r.Target,
		Index:      r.Index,
		State:      r.State,
		Duration:   r.Duration,
		OutputPath: r.OutputPath,
		Error:      r.Error,
		Diagnostic: r.Diagnostic,
		FinishedAt: r.FinishedAt,
	}
	if r.ExitStatus != nil {
		w.HasExit = true
		w.ExitStatus = *r.ExitStatus
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes a gob-encoded record.
func (r *Record) Decode(data []byte) error {
	var w wireRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	*r = Record{
		Version:    w.Version,
		RunID:      w.RunID,
		Tool:       w.Tool,
		Target:     w.Target,
		Index:      w.Index,
		State:      w.State,
		Duration:   w.Duration,
		OutputPath: w.OutputPath,
		Error:      w.Error,
		Diagnostic: w.Diagnostic,
		FinishedAt: w.FinishedAt,
	}
	if w.HasExit {
		status := w.ExitStatus
		r.ExitStatus = &status
	}
	return nil
}

// LatestKey is the key of the most recent record for a target.
// Format: result/<target>
func LatestKey(target types.Target) []byte {
	return []byte(latestPrefix + target.String())
}

// RunKey is the key of a target's record within a run.
// Format: run/<runID>/<target>
func RunKey(runID string, target types.Target) []byte {
	return []byte(runPrefix + runID + "/" + target.String())
}

// RunKeyPrefix returns the prefix of all records of a run.
func RunKeyPrefix(runID string) []byte {
	return []byte(runPrefix + runID + "/")
}
