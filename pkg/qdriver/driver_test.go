package qdriver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quatton/qmag/pkg/qart"
	"github.com/quatton/qmag/pkg/qerr"
	"github.com/quatton/qmag/pkg/qrunner"
)

type countingSelector struct {
	runner qrunner.Runner
	calls  int
}

func (s *countingSelector) Select(terms []string, platform qrunner.Platform) qrunner.Runner {
	s.calls++
	return s.runner
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []RunRecord
}

func (m *memoryRecorder) Record(ctx context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// steppingClock returns start, then start+step, start+2*step, ...
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func shellRunner(script string) *qrunner.LocalRunner {
	return qrunner.NewLocalRunner(qrunner.LocalConfig{Command: []string{"sh", "-c", script}})
}

func testSystem() System {
	return System{
		Name:   "stdprob",
		Script: "# MIF 2.1\n",
		Terms:  []string{"exchange"},
	}
}

func newTestDriver(t *testing.T, selector Selector, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithStatus(io.Discard)}, opts...)
	d, err := New(t.TempDir(), selector, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func TestDrive_Success(t *testing.T) {
	d := newTestDriver(t, nil)

	result, err := d.Drive(context.Background(), testSystem(), shellRunner("exit 0"), 0)
	if err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Errorf("Expected success, got %+v", result)
	}
	if result.Backend != "local" {
		t.Errorf("Expected local backend, got %s", result.Backend)
	}
}

func TestDrive_JobDirectoryLayout(t *testing.T) {
	d := newTestDriver(t, nil)
	sys := testSystem()
	sys.Files = map[string][]byte{"m0.omf": []byte("field")}

	// $0 is the first arg after the script, so this prints every argument.
	result, err := d.Drive(context.Background(), sys, shellRunner(`echo "$0 $1"; ls`), 0)
	if err != nil {
		t.Fatalf("Drive failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if lines[0] != "boxsi stdprob.mif" {
		t.Errorf("Unexpected default args %q", lines[0])
	}
	listing := strings.Join(lines[1:], " ")
	if !strings.Contains(listing, "stdprob.mif") || !strings.Contains(listing, "m0.omf") {
		t.Errorf("Inputs not materialized: %q", listing)
	}

	dir := filepath.Join(d.baseDir, "stdprob", result.JobID)
	rec, err := ReadRunRecord(dir)
	if err != nil {
		t.Fatalf("Reading run record: %v", err)
	}
	if rec.JobDir != dir || !rec.Success || rec.Backend != "local" {
		t.Errorf("Unexpected run record %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(dir, StdoutFile)); err != nil {
		t.Errorf("Expected stdout log: %v", err)
	}
}

func TestDrive_ConcurrentJobsAreIsolated(t *testing.T) {
	d := newTestDriver(t, nil)
	runner := shellRunner("ls | wc -l; touch marker")

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := d.Drive(context.Background(), testSystem(), runner, 0)
			if err != nil {
				t.Errorf("Drive failed: %v", err)
				return
			}
			if strings.TrimSpace(result.Stdout) != "1" {
				t.Errorf("Job saw another job's files: %q", result.Stdout)
			}
			ids <- result.JobID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate job id %s", id)
		}
		seen[id] = true
	}
}

func TestDrive_NonZeroExit(t *testing.T) {
	d := newTestDriver(t, nil)

	result, err := d.Drive(context.Background(), testSystem(), shellRunner("echo 'bad mif' >&2; exit 1"), 0)
	if result != nil {
		t.Errorf("Expected no result, got %+v", result)
	}
	if !qerr.IsCode(err, qerr.CodeNonZeroExit) {
		t.Fatalf("Expected non_zero_exit, got %v", err)
	}

	exit, ok := qerr.AsExit(err)
	if !ok || exit.ExitCode != 1 || strings.TrimSpace(exit.Stderr) != "bad mif" {
		t.Errorf("Unexpected exit %+v", exit)
	}

	var de *DriveError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DriveError, got %T", err)
	}
	if de.Backend != "local" || !strings.HasPrefix(de.JobDir, filepath.Join(d.baseDir, "stdprob")) {
		t.Errorf("Unexpected DriveError context %+v", de)
	}

	rec, err := ReadRunRecord(de.JobDir)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Success || rec.ExitCode != 1 || rec.ErrorCode != string(qerr.CodeNonZeroExit) {
		t.Errorf("Unexpected run record %+v", rec)
	}
	stderr, _ := os.ReadFile(filepath.Join(de.JobDir, StderrFile))
	if strings.TrimSpace(string(stderr)) != "bad mif" {
		t.Errorf("Expected stderr log, got %q", stderr)
	}
}

func TestDrive_Timeout(t *testing.T) {
	d := newTestDriver(t, nil)

	start := time.Now()
	_, err := d.Drive(context.Background(), testSystem(), shellRunner("sleep 30"), 200*time.Millisecond)
	if !qerr.IsCode(err, qerr.CodeTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Timeout did not stop the job promptly")
	}
}

func TestDrive_ExplicitRunnerSkipsSelector(t *testing.T) {
	selector := &countingSelector{runner: shellRunner("exit 0")}
	d := newTestDriver(t, selector)

	if _, err := d.Drive(context.Background(), testSystem(), shellRunner("exit 0"), 0); err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if selector.calls != 0 {
		t.Errorf("Selector called %d times despite explicit runner", selector.calls)
	}

	if _, err := d.Drive(context.Background(), testSystem(), nil, 0); err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if selector.calls != 1 {
		t.Errorf("Expected selector to be used once, got %d", selector.calls)
	}
}

func TestDrive_SelectorUsesPlatformAndTerms(t *testing.T) {
	local := shellRunner("exit 0")
	selector := qrunner.NewSelector(local, nil)
	d := newTestDriver(t, selector, WithPlatform(qrunner.Platform{OS: "linux", NativeAvailable: true}))

	result, err := d.Drive(context.Background(), testSystem(), nil, 0)
	if err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if result.Backend != "local" {
		t.Errorf("Expected local backend, got %s", result.Backend)
	}
}

func TestDrive_NoRunner(t *testing.T) {
	d := newTestDriver(t, nil)
	_, err := d.Drive(context.Background(), testSystem(), nil, 0)

	var de *DriveError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DriveError, got %v", err)
	}
}

func TestDrive_StatusLine(t *testing.T) {
	var status bytes.Buffer
	start := time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)
	d := newTestDriver(t, nil, WithStatus(&status), WithClock(steppingClock(start, 1500*time.Millisecond)))

	result, err := d.Drive(context.Background(), testSystem(), shellRunner("exit 0"), 0)
	if err != nil {
		t.Fatalf("Drive failed: %v", err)
	}

	want := "Running OOMMF (local) [2024/05/06 14:30]... (1.5 s)\n"
	if status.String() != want {
		t.Errorf("status = %q, want %q", status.String(), want)
	}
	if result.Duration != 1500*time.Millisecond {
		t.Errorf("Expected elapsed time attached, got %s", result.Duration)
	}
}

func TestDrive_StatusLineOnFailure(t *testing.T) {
	var status bytes.Buffer
	d := newTestDriver(t, nil, WithStatus(&status))

	_, _ = d.Drive(context.Background(), testSystem(), shellRunner("exit 3"), 0)
	if !strings.HasPrefix(status.String(), "Running OOMMF (local) [") || !strings.HasSuffix(status.String(), " s)\n") {
		t.Errorf("Unexpected status line %q", status.String())
	}
}

func TestDrive_ArtifactsAndHistory(t *testing.T) {
	store := qart.NewMemoryStore()
	history := &memoryRecorder{}
	d := newTestDriver(t, nil, WithArtifacts(store), WithHistory(history))

	result, err := d.Drive(context.Background(), testSystem(), shellRunner("echo done"), 0)
	if err != nil {
		t.Fatalf("Drive failed: %v", err)
	}

	artifacts, err := store.List(context.Background(), qart.JobPrefix(result.JobID))
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, a := range artifacts {
		keys = append(keys, filepath.Base(a.Key))
	}
	if got := strings.Join(keys, ","); got != "run.json,stderr.log,stdout.log,stdprob.mif" {
		t.Errorf("Unexpected artifacts %s", got)
	}

	if len(history.records) != 1 {
		t.Fatalf("Expected one history record, got %d", len(history.records))
	}
	if rec := history.records[0]; rec.JobID != result.JobID || !rec.Success {
		t.Errorf("Unexpected history record %+v", rec)
	}
}

func TestDrive_HistoryRecordsFailures(t *testing.T) {
	history := &memoryRecorder{}
	d := newTestDriver(t, nil, WithHistory(history))

	_, err := d.Drive(context.Background(), testSystem(), shellRunner("exit 2"), 0)
	if err == nil {
		t.Fatal("Expected failure")
	}
	if len(history.records) != 1 || history.records[0].ExitCode != 2 || history.records[0].Success {
		t.Errorf("Unexpected history %+v", history.records)
	}
}

func TestSystem_Validate(t *testing.T) {
	tests := []struct {
		name string
		sys  System
	}{
		{"missing name", System{Script: "x"}},
		{"path in name", System{Name: "a/b", Script: "x"}},
		{"missing script", System{Name: "a"}},
		{"file shadows script", System{Name: "a", Script: "x", Files: map[string][]byte{"a.mif": nil}}},
		{"file with path", System{Name: "a", Script: "x", Files: map[string][]byte{"../x": nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sys.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestMeasureOverhead(t *testing.T) {
	d := newTestDriver(t, nil)

	overhead, err := d.MeasureOverhead(context.Background(), shellRunner("test -f example-macrospin.mif"))
	if err != nil {
		t.Fatalf("MeasureOverhead failed: %v", err)
	}
	if overhead.Backend != "local" || overhead.Duration <= 0 {
		t.Errorf("Unexpected overhead %+v", overhead)
	}
	if filepath.Base(overhead.MIFPath) != "example-macrospin.mif" {
		t.Errorf("Unexpected MIF path %s", overhead.MIFPath)
	}
	if _, err := os.Stat(overhead.MIFPath); err != nil {
		t.Errorf("MIF not written: %v", err)
	}
}

func TestPrepare_RemovesJobDirOnWriteFailure(t *testing.T) {
	d := newTestDriver(t, nil)
	sys := testSystem()
	// Longer than any file system's name limit, so the write fails after
	// the job directory exists.
	sys.Files = map[string][]byte{strings.Repeat("m", 300) + ".ovf": []byte("x")}

	if _, err := d.Prepare(sys); err == nil {
		t.Fatal("Expected Prepare to fail")
	}

	entries, err := os.ReadDir(filepath.Join(d.baseDir, sys.Name))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no job directory left behind, got %d", len(entries))
	}
}
