// Package qdriver turns a System into a Job, runs it on the chosen or
// selected runner and records the outcome.
package qdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qmag/pkg/qart"
	"github.com/quatton/qmag/pkg/qerr"
	"github.com/quatton/qmag/pkg/qlog"
	"github.com/quatton/qmag/pkg/qrunner"
)

const (
	StdoutFile = "stdout.log"
	StderrFile = "stderr.log"

	postRunTimeout = 30 * time.Second
)

// Selector picks a runner when Drive is not given one.
type Selector interface {
	Select(terms []string, platform qrunner.Platform) qrunner.Runner
}

// DriveError wraps a runner failure with where it happened.
type DriveError struct {
	Backend string
	JobDir  string
	Err     error
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("%s run in %s: %v", e.Backend, e.JobDir, e.Err)
}

func (e *DriveError) Unwrap() error { return e.Err }

// Driver runs Systems. It is safe for concurrent use; every Drive call gets
// its own job directory.
type Driver struct {
	baseDir   string
	selector  Selector
	platform  qrunner.Platform
	logger    *qlog.Logger
	status    io.Writer
	now       func() time.Time
	artifacts qart.Store
	history   Recorder
}

// Option configures a Driver.
type Option func(*Driver)

func WithLogger(logger *qlog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithStatus sets where the one-line run status is printed (default stdout).
func WithStatus(w io.Writer) Option {
	return func(d *Driver) { d.status = w }
}

// WithClock replaces time.Now for timestamps and elapsed times.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithPlatform overrides the detected platform passed to the selector.
func WithPlatform(p qrunner.Platform) Option {
	return func(d *Driver) { d.platform = p }
}

// WithArtifacts uploads logs, run.json and the script after every run.
func WithArtifacts(store qart.Store) Option {
	return func(d *Driver) { d.artifacts = store }
}

// WithHistory records every run.
func WithHistory(rec Recorder) Option {
	return func(d *Driver) { d.history = rec }
}

// New creates a Driver that materializes jobs under baseDir. selector may be
// nil when every Drive call passes a runner.
func New(baseDir string, selector Selector, opts ...Option) (*Driver, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base dir: %w", err)
	}

	d := &Driver{
		baseDir:  abs,
		selector: selector,
		platform: qrunner.DetectPlatform(qrunner.DefaultOOMMFCommand),
		status:   os.Stdout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = qlog.OrQuiet(d.logger)
	if d.status == nil {
		d.status = io.Discard
	}
	return d, nil
}

// Drive runs sys and blocks until it finishes or timeout elapses (no limit
// when timeout <= 0). An explicit runner always wins over the selector.
func (d *Driver) Drive(ctx context.Context, sys System, runner qrunner.Runner, timeout time.Duration) (*qrunner.RunResult, error) {
	job, err := d.Prepare(sys)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, sys, job, runner, timeout)
}

// Prepare writes sys into a fresh job directory
// <baseDir>/<system name>/<job id>/ and returns the Job describing it.
func (d *Driver) Prepare(sys System) (qrunner.Job, error) {
	if err := sys.Validate(); err != nil {
		return qrunner.Job{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return qrunner.Job{}, fmt.Errorf("generating job id: %w", err)
	}

	dir := filepath.Join(d.baseDir, sys.Name, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return qrunner.Job{}, fmt.Errorf("creating job directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sys.ScriptName()), []byte(sys.Script), 0o644); err != nil {
		os.RemoveAll(dir)
		return qrunner.Job{}, fmt.Errorf("writing MIF script: %w", err)
	}
	for name, data := range sys.Files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			os.RemoveAll(dir)
			return qrunner.Job{}, fmt.Errorf("writing %s: %w", name, err)
		}
	}

	return qrunner.Job{
		ID:     id.String(),
		Name:   sys.Name,
		Dir:    dir,
		Inputs: sys.inputs(),
		Args:   sys.args(),
		Env:    sys.Env,
	}, nil
}

// Execute runs a prepared job. See Drive.
func (d *Driver) Execute(ctx context.Context, sys System, job qrunner.Job, runner qrunner.Runner, timeout time.Duration) (*qrunner.RunResult, error) {
	runner, err := d.resolve(sys, runner)
	if err != nil {
		return nil, &DriveError{Backend: "none", JobDir: job.Dir, Err: err}
	}
	backend := qrunner.BackendName(runner)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	startedAt := d.now()
	fmt.Fprintf(d.status, "Running OOMMF (%s) [%s]... ", backend, startedAt.Format("2006/01/02 15:04"))
	d.logger.Debug("job started", "job", job.ID, "backend", backend, "dir", job.Dir)

	result, runErr := runner.Run(ctx, job)

	finishedAt := d.now()
	elapsed := finishedAt.Sub(startedAt)
	fmt.Fprintf(d.status, "(%.1f s)\n", elapsed.Seconds())

	d.finish(ctx, sys, job, newRunRecord(job, backend, result, runErr, startedAt, finishedAt), result, runErr)

	if runErr != nil {
		d.logger.Debug("job failed", "job", job.ID, "error", runErr)
		return nil, &DriveError{Backend: backend, JobDir: job.Dir, Err: runErr}
	}

	result.Duration = elapsed
	return result, nil
}

func (d *Driver) resolve(sys System, runner qrunner.Runner) (qrunner.Runner, error) {
	if runner != nil {
		return runner, nil
	}
	if d.selector == nil {
		return nil, errors.New("no runner given and no selector configured")
	}
	if r := d.selector.Select(sys.Terms, d.platform); r != nil {
		return r, nil
	}
	return nil, qerr.WithHint(qerr.CodeBackendUnavailable,
		errors.New("no runner available"), "configure oommf.command or docker.image")
}

// finish writes logs and run.json and, when configured, uploads artifacts
// and records history. Failures here are logged and never change the
// run's outcome.
func (d *Driver) finish(ctx context.Context, sys System, job qrunner.Job, rec RunRecord, result *qrunner.RunResult, runErr error) {
	stdout, stderr := "", ""
	if result != nil {
		stdout, stderr = result.Stdout, result.Stderr
	} else if exit, ok := qerr.AsExit(runErr); ok {
		stdout, stderr = exit.Stdout, exit.Stderr
	}

	for name, content := range map[string]string{StdoutFile: stdout, StderrFile: stderr} {
		if err := os.WriteFile(filepath.Join(job.Dir, name), []byte(content), 0o644); err != nil {
			d.logger.Warn("failed to write log", "file", name, "error", err)
		}
	}
	if err := writeRunRecord(job.Dir, rec); err != nil {
		d.logger.Warn("failed to write run record", "error", err)
	}

	if d.artifacts == nil && d.history == nil {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postRunTimeout)
	defer cancel()

	if d.artifacts != nil {
		names := []string{StdoutFile, StderrFile, RunRecordFile, sys.ScriptName()}
		uploaded, err := qart.UploadFiles(pctx, d.artifacts, job.ID, job.Dir, names, map[string]string{
			"job-id":  job.ID,
			"backend": rec.Backend,
		})
		if err != nil {
			d.logger.Warn("artifact upload failed", "job", job.ID, "error", err)
		} else {
			d.logger.Debug("artifacts uploaded", "job", job.ID, "count", len(uploaded))
		}
	}

	if d.history != nil {
		if err := d.history.Record(pctx, rec); err != nil {
			d.logger.Warn("failed to record history", "job", job.ID, "error", err)
		}
	}
}
