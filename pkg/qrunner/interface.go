package qrunner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Backend names a family of runners.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendDocker Backend = "docker"
	BackendRemote Backend = "remote"
	BackendK8s    Backend = "k8s"
)

// Job is one unit of simulation work. It is immutable once handed to a
// Runner and is discarded after the run completes.
type Job struct {
	ID     string            // Unique job ID (UUIDv7 when created by the driver)
	Name   string            // Human-readable name, usually the system name
	Dir    string            // Absolute working directory holding the inputs
	Inputs []string          // Input file names, relative to Dir
	Args   []string          // Arguments appended to the backend's command
	Env    map[string]string // Extra environment for this job only
}

// Validate checks the fields every backend relies on.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job ID is required")
	}
	if j.Dir == "" {
		return errors.New("job directory is required")
	}
	if !filepath.IsAbs(j.Dir) {
		return fmt.Errorf("job directory %q must be absolute", j.Dir)
	}
	for _, name := range j.Inputs {
		if err := ValidateFileName(name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFileName rejects names that would escape a job directory.
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("file name %q must not contain a path", name)
	}
	return nil
}

// RunResult is the outcome of a job that ran to completion with exit code 0.
// Failures are reported as errors instead, never alongside a RunResult.
type RunResult struct {
	JobID      string        `json:"job_id"`
	Backend    string        `json:"backend"`
	ExitCode   int           `json:"exit_code"`
	Success    bool          `json:"success"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Runner executes a Job on some backend and blocks until it finishes.
//
// Errors carry a qerr code: CodeBackendUnavailable when the binary or image
// is missing, CodeTimeout when ctx's deadline elapses, CodeCancelled when ctx
// is cancelled, CodeNonZeroExit (wrapping *qerr.ExitError) when the process
// exits non-zero and, for RemoteRunner, CodeTransport.
type Runner interface {
	Run(ctx context.Context, job Job) (*RunResult, error)
}

// Checker is implemented by runners that can report whether their backend is
// usable without running a job.
type Checker interface {
	Check(ctx context.Context) error
}

// BackendName returns the runner's Name() when it has one.
func BackendName(r Runner) string {
	if r == nil {
		return "<nil>"
	}
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}
