package qrunner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quatton/qmag/pkg/qerr"
)

func TestLocalRunner_Success(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: shell("exit 0")})
	job := newTestJob(t, nil)

	result, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.Success {
		t.Error("Expected success")
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if result.JobID != job.ID || result.Backend != "local" {
		t.Errorf("Unexpected result identity: %+v", result)
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
}

func TestLocalRunner_FailedCommand(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: shell("echo partial; echo boom >&2; exit 1")})
	job := newTestJob(t, nil)

	result, err := runner.Run(context.Background(), job)
	if result != nil {
		t.Errorf("Expected no result on failure, got %+v", result)
	}
	if !qerr.IsCode(err, qerr.CodeNonZeroExit) {
		t.Fatalf("Expected non-zero exit error, got %v", err)
	}

	exit, ok := qerr.AsExit(err)
	if !ok {
		t.Fatal("Expected ExitError in chain")
	}
	if exit.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", exit.ExitCode)
	}
	if strings.TrimSpace(exit.Stderr) != "boom" {
		t.Errorf("Expected captured stderr 'boom', got %q", exit.Stderr)
	}
	if strings.TrimSpace(exit.Stdout) != "partial" {
		t.Errorf("Expected captured stdout 'partial', got %q", exit.Stdout)
	}
}

func TestLocalRunner_WorkingDirArgsAndEnv(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{
		Command: shell(`pwd; echo "$0 $1"; echo "$RUNNER_VAR $JOB_VAR $QMAG_JOB_ID"; cat input.mif`),
		Env:     map[string]string{"RUNNER_VAR": "r"},
	})
	job := newTestJob(t, map[string]string{"input.mif": "# MIF 2.1"})
	job.Args = []string{"boxsi", "input.mif"}
	job.Env = map[string]string{"JOB_VAR": "j"}

	result, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 output lines, got %q", result.Stdout)
	}

	wantDir, _ := filepath.EvalSymlinks(job.Dir)
	gotDir, _ := filepath.EvalSymlinks(lines[0])
	if gotDir != wantDir {
		t.Errorf("Expected working dir %s, got %s", wantDir, gotDir)
	}
	if lines[1] != "boxsi input.mif" {
		t.Errorf("Unexpected args line %q", lines[1])
	}
	if lines[2] != "r j "+job.ID {
		t.Errorf("Unexpected env line %q", lines[2])
	}
	if lines[3] != "# MIF 2.1" {
		t.Errorf("Expected input file content, got %q", lines[3])
	}
}

func TestLocalRunner_MissingExecutable(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: []string{"qmag-definitely-not-installed"}})
	job := newTestJob(t, nil)

	_, err := runner.Run(context.Background(), job)
	if !qerr.IsCode(err, qerr.CodeBackendUnavailable) {
		t.Fatalf("Expected backend unavailable, got %v", err)
	}
	if qerr.HintOf(err) == "" {
		t.Error("Expected a remediation hint")
	}

	if err := runner.Check(context.Background()); !qerr.IsCode(err, qerr.CodeBackendUnavailable) {
		t.Errorf("Expected Check to report unavailable, got %v", err)
	}
}

func TestLocalRunner_Timeout(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: shell("sleep 30")})
	job := newTestJob(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx, job)
	if !qerr.IsCode(err, qerr.CodeTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Timeout took too long to take effect: %s", elapsed)
	}
}

func TestLocalRunner_Cancel(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: shell("sleep 30")})
	job := newTestJob(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := runner.Run(ctx, job)
	if !qerr.IsCode(err, qerr.CodeCancelled) {
		t.Fatalf("Expected cancelled, got %v", err)
	}
}

func TestLocalRunner_TeesOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	runner := NewLocalRunner(LocalConfig{Command: shell("echo hello; echo warn >&2")}, WithOutput(&out, &errOut))
	job := newTestJob(t, nil)

	result, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "hello\n" || result.Stdout != "hello\n" {
		t.Errorf("Expected stdout tee and capture, got %q / %q", out.String(), result.Stdout)
	}
	if errOut.String() != "warn\n" || result.Stderr != "warn\n" {
		t.Errorf("Expected stderr tee and capture, got %q / %q", errOut.String(), result.Stderr)
	}
}

func TestLocalRunner_RejectsInvalidJob(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: shell("exit 0")})

	cases := map[string]Job{
		"missing id":   {Dir: t.TempDir()},
		"relative dir": {ID: "x", Dir: "relative"},
		"escaping input": {ID: "x", Dir: t.TempDir(), Inputs: []string{"../etc/passwd"}},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := runner.Run(context.Background(), job); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLocalRunner_StatelessAcrossJobs(t *testing.T) {
	runner := NewLocalRunner(LocalConfig{Command: shell(`echo "${JOB_ONLY:-unset}"; ls`)})

	first := newTestJob(t, map[string]string{"a.mif": "a"})
	first.Env = map[string]string{"JOB_ONLY": "first"}
	if _, err := runner.Run(context.Background(), first); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := newTestJob(t, map[string]string{"b.mif": "b"})
	result, err := runner.Run(context.Background(), second)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !strings.HasPrefix(result.Stdout, "unset\n") {
		t.Errorf("Env leaked between jobs: %q", result.Stdout)
	}
	if strings.Contains(result.Stdout, "a.mif") {
		t.Errorf("Working dir leaked between jobs: %q", result.Stdout)
	}
	if _, err := os.Stat(filepath.Join(second.Dir, "a.mif")); !os.IsNotExist(err) {
		t.Error("Unexpected file from first job")
	}
}
