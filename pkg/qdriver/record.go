package qdriver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/quatton/qmag/pkg/qerr"
	"github.com/quatton/qmag/pkg/qrunner"
)

// RunRecordFile is written into every job directory once the run ends.
const RunRecordFile = "run.json"

// RunRecord summarizes one run, successful or not.
type RunRecord struct {
	JobID      string        `json:"job_id"`
	Name       string        `json:"name"`
	Backend    string        `json:"backend"`
	JobDir     string        `json:"job_dir"`
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Recorder persists run records, e.g. into a history database.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// newRunRecord builds a record from a runner's outcome. Exactly one of
// result and err is set.
func newRunRecord(job qrunner.Job, backend string, result *qrunner.RunResult, err error, startedAt, finishedAt time.Time) RunRecord {
	rec := RunRecord{
		JobID:      job.ID,
		Name:       job.Name,
		Backend:    backend,
		JobDir:     job.Dir,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
	}
	if err == nil {
		rec.Success = result.Success
		rec.ExitCode = result.ExitCode
		return rec
	}

	rec.ExitCode = -1
	if exit, ok := qerr.AsExit(err); ok {
		rec.ExitCode = exit.ExitCode
	}
	rec.Error = err.Error()
	rec.ErrorCode = string(qerr.CodeOf(err))
	return rec
}

func writeRunRecord(dir string, rec RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, RunRecordFile), append(data, '\n'), 0o644)
}

// ReadRunRecord loads the record of a finished job directory.
func ReadRunRecord(dir string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, RunRecordFile))
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
