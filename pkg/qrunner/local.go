package qrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/quatton/qmag/pkg/qlog"
)

// DefaultOOMMFCommand is how OOMMF is invoked when nothing else is configured.
var DefaultOOMMFCommand = []string{"oommf"}

// LocalConfig configures a LocalRunner.
type LocalConfig struct {
	// Command is the executable and leading arguments, e.g.
	// ["tclsh", "/opt/oommf/oommf.tcl"]. Job.Args are appended.
	Command []string

	// Env is added to the host environment for every job.
	Env map[string]string
}

// LocalRunner spawns the backend binary directly on the host.
type LocalRunner struct {
	config LocalConfig
	opts   options
	logger *qlog.Logger
}

// NewLocalRunner creates a runner for the given command.
func NewLocalRunner(config LocalConfig, opts ...Option) *LocalRunner {
	if len(config.Command) == 0 {
		config.Command = append([]string{}, DefaultOOMMFCommand...)
	}
	o := buildOptions(opts)
	return &LocalRunner{
		config: config,
		opts:   o,
		logger: o.logger.With("backend", BackendLocal),
	}
}

func (r *LocalRunner) Name() string { return string(BackendLocal) }

// Command returns the configured command prefix.
func (r *LocalRunner) Command() []string {
	return append([]string{}, r.config.Command...)
}

// Check verifies the executable can be found.
func (r *LocalRunner) Check(ctx context.Context) error {
	if _, err := exec.LookPath(r.config.Command[0]); err != nil {
		return unavailable(
			"install OOMMF and put it on PATH, set oommf.command, or use the docker runner",
			"executable %q not found: %w", r.config.Command[0], err)
	}
	return nil
}

// Start spawns the job's process and returns its handle.
func (r *LocalRunner) Start(ctx context.Context, job Job) (Handle, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := r.Check(ctx); err != nil {
		return nil, err
	}

	argv := append(r.Command(), job.Args...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = job.Dir
	cmd.Env = mergeEnv(os.Environ(), r.config.Env, job.Env, map[string]string{
		"QMAG_JOB_ID":  job.ID,
		"QMAG_JOB_DIR": job.Dir,
	})

	h, err := startProcess(cmd, r.opts.stdout, r.opts.stderr)
	if err != nil {
		return nil, unavailable("check that the OOMMF command is executable",
			"starting %q: %w", argv[0], err)
	}

	r.logger.Debug("process started", "job", job.ID, "pid", cmd.Process.Pid, "command", strings.Join(argv, " "))
	return h, nil
}

func (r *LocalRunner) Run(ctx context.Context, job Job) (*RunResult, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}

	startedAt := time.Now()
	h, err := r.Start(ctx, job)
	if err != nil {
		return nil, err
	}

	exit, err := h.Wait(ctx)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			r.logger.Debug("process killed", "job", job.ID, "reason", cerr)
			return nil, cerr
		}
		return nil, fmt.Errorf("waiting for process: %w", err)
	}

	r.logger.Debug("process exited", "job", job.ID, "code", exit.Code)
	return complete(job, BackendLocal, startedAt, exit)
}

// mergeEnv appends the maps to base in order, later keys winning. Map keys
// are sorted so the result is deterministic.
func mergeEnv(base []string, maps ...map[string]string) []string {
	env := append([]string{}, base...)
	for _, m := range maps {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, m[k]))
		}
	}
	return env
}

var _ Runner = (*LocalRunner)(nil)
