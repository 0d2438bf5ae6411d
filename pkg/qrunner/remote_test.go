package qrunner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quatton/qmag/pkg/qapi/schemas"
	"github.com/quatton/qmag/pkg/qerr"
)

// runServer is a minimal qmag server that executes submitted runs
// synchronously with a wrapped runner.
type runServer struct {
	t      *testing.T
	runner Runner
	token  string

	mu        sync.Mutex
	runs      map[string]*schemas.RunResponse
	submits   int
	failPosts int // respond 503 to this many submissions first
	hang      bool
	deleted   []string
}

func newRunServer(t *testing.T, runner Runner) (*runServer, *httptest.Server) {
	s := &runServer{t: t, runner: runner, runs: make(map[string]*schemas.RunResponse)}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *runServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/health":
		writeJSON(w, schemas.HealthResponse{Status: "ok", Backend: BackendName(s.runner)})
	case r.Method == http.MethodPost && r.URL.Path == "/api/runs":
		s.submit(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/runs/"):
		s.mu.Lock()
		run, ok := s.runs[strings.TrimPrefix(r.URL.Path, "/api/runs/")]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, run)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/runs/"):
		s.mu.Lock()
		s.deleted = append(s.deleted, strings.TrimPrefix(r.URL.Path, "/api/runs/"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (s *runServer) submit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.submits++
	if s.failPosts > 0 {
		s.failPosts--
		s.mu.Unlock()
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	var req schemas.SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := "run-1"
	run := &schemas.RunResponse{ID: id, Name: req.Name, Backend: BackendName(s.runner), Status: schemas.RunStatusRunning}
	if !s.hang {
		s.execute(run, req)
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, run)
}

func (s *runServer) execute(run *schemas.RunResponse, req schemas.SubmitRunRequest) {
	dir := s.t.TempDir()
	job := Job{ID: "remote-" + run.ID, Name: req.Name, Dir: dir, Args: req.Args, Env: req.Env}
	for name, data := range req.Files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			s.t.Errorf("writing input: %v", err)
		}
		job.Inputs = append(job.Inputs, name)
	}

	result, err := s.runner.Run(context.Background(), job)
	if exit, ok := qerr.AsExit(err); ok {
		run.Status = schemas.RunStatusFailed
		run.ExitCode = &exit.ExitCode
		run.Stdout, run.Stderr = exit.Stdout, exit.Stderr
	} else if err != nil {
		run.Status = schemas.RunStatusError
		run.Error = err.Error()
		run.ErrorCode = string(qerr.CodeOf(err))
	} else {
		run.Status = schemas.RunStatusSucceeded
		run.ExitCode = &result.ExitCode
		run.Stdout, run.Stderr = result.Stdout, result.Stderr
	}

	run.Files = make(map[string][]byte)
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if _, isInput := req.Files[e.Name()]; isInput || e.IsDir() {
			continue
		}
		data, _ := os.ReadFile(filepath.Join(dir, e.Name()))
		run.Files[e.Name()] = data
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestRemoteRunner(t *testing.T, url string, config RemoteConfig) *RemoteRunner {
	t.Helper()
	config.BaseURL = url
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Millisecond
	}
	r, err := NewRemoteRunner(config, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRemoteRunner failed: %v", err)
	}
	return r
}

func TestRemoteRunner_Success(t *testing.T) {
	_, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: shell("cat input.mif; echo out > result.odt")}))
	runner := newTestRemoteRunner(t, srv.URL, RemoteConfig{})
	job := newTestJob(t, map[string]string{"input.mif": "# MIF 2.1\n"})

	result, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success || result.Backend != "remote" {
		t.Errorf("Unexpected result %+v", result)
	}
	if result.Stdout != "# MIF 2.1\n" {
		t.Errorf("Expected remote stdout, got %q", result.Stdout)
	}

	data, err := os.ReadFile(filepath.Join(job.Dir, "result.odt"))
	if err != nil {
		t.Fatalf("Expected output file written back: %v", err)
	}
	if string(data) != "out\n" {
		t.Errorf("Unexpected output file content %q", data)
	}
}

func TestRemoteRunner_NonZeroExit(t *testing.T) {
	_, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: shell("echo nope >&2; exit 2")}))
	runner := newTestRemoteRunner(t, srv.URL, RemoteConfig{})

	_, err := runner.Run(context.Background(), newTestJob(t, nil))
	exit, ok := qerr.AsExit(err)
	if !ok {
		t.Fatalf("Expected exit error, got %v", err)
	}
	if exit.ExitCode != 2 || strings.TrimSpace(exit.Stderr) != "nope" {
		t.Errorf("Unexpected exit %+v", exit)
	}
}

func TestRemoteRunner_RemoteBackendError(t *testing.T) {
	_, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: []string{"qmag-definitely-not-installed"}}))
	runner := newTestRemoteRunner(t, srv.URL, RemoteConfig{})

	_, err := runner.Run(context.Background(), newTestJob(t, nil))
	if !qerr.IsCode(err, qerr.CodeBackendUnavailable) {
		t.Fatalf("Expected remote error code to propagate, got %v", err)
	}
}

func TestRemoteRunner_RetriesTransientFailures(t *testing.T) {
	s, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: shell("exit 0")}))
	s.failPosts = 2
	runner := newTestRemoteRunner(t, srv.URL, RemoteConfig{MaxRetries: 4})

	if _, err := runner.Run(context.Background(), newTestJob(t, nil)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.submits != 3 {
		t.Errorf("Expected 3 submissions, got %d", s.submits)
	}
}

func TestRemoteRunner_RetriesExhausted(t *testing.T) {
	s, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: shell("exit 0")}))
	s.failPosts = 100
	runner := newTestRemoteRunner(t, srv.URL, RemoteConfig{MaxRetries: 3})

	_, err := runner.Run(context.Background(), newTestJob(t, nil))
	if !qerr.IsCode(err, qerr.CodeBackendUnavailable) {
		t.Fatalf("Expected backend unavailable after 503s, got %v", err)
	}
	if s.submits != 3 {
		t.Errorf("Expected 3 attempts, got %d", s.submits)
	}
}

func TestRemoteRunner_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	runner := newTestRemoteRunner(t, url, RemoteConfig{MaxRetries: 2})
	_, err := runner.Run(context.Background(), newTestJob(t, nil))
	if !qerr.IsCode(err, qerr.CodeTransport) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if err := runner.Check(context.Background()); !qerr.IsCode(err, qerr.CodeTransport) {
		t.Errorf("Expected Check transport error, got %v", err)
	}
}

func TestRemoteRunner_BearerToken(t *testing.T) {
	s, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: shell("exit 0")}))
	s.token = "secret"

	anonymous := newTestRemoteRunner(t, srv.URL, RemoteConfig{})
	_, err := anonymous.Run(context.Background(), newTestJob(t, nil))
	if !qerr.IsCode(err, qerr.CodeBackendUnavailable) {
		t.Fatalf("Expected unauthorized to map to backend unavailable, got %v", err)
	}
	if !strings.Contains(qerr.HintOf(err), "auth login") {
		t.Errorf("Expected login hint, got %q", qerr.HintOf(err))
	}

	authed := newTestRemoteRunner(t, srv.URL, RemoteConfig{Token: "secret"})
	if _, err := authed.Run(context.Background(), newTestJob(t, nil)); err != nil {
		t.Fatalf("Authenticated run failed: %v", err)
	}
}

func TestRemoteRunner_TimeoutCancelsRemoteRun(t *testing.T) {
	s, srv := newRunServer(t, NewLocalRunner(LocalConfig{Command: shell("exit 0")}))
	s.hang = true
	runner := newTestRemoteRunner(t, srv.URL, RemoteConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, newTestJob(t, nil))
	if !qerr.IsCode(err, qerr.CodeTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deleted) != 1 || s.deleted[0] != "run-1" {
		t.Errorf("Expected remote run to be cancelled, got %v", s.deleted)
	}
}

func TestWriteFiles_RejectsPaths(t *testing.T) {
	err := writeFiles(t.TempDir(), map[string][]byte{"../escape": []byte("x")})
	if err == nil {
		t.Fatal("Expected error for path in file name")
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(errors.New("connection reset")) {
		t.Error("Expected network errors to be retryable")
	}
	if retryable(&statusError{Code: http.StatusBadRequest}) {
		t.Error("Expected 400 to be final")
	}
	if !retryable(&statusError{Code: http.StatusBadGateway}) {
		t.Error("Expected 502 to be retryable")
	}
}

func TestRemoteRunner_SubmitCarriesJobID(t *testing.T) {
	runner := newTestRemoteRunner(t, "http://qmag.invalid", RemoteConfig{})
	job := newTestJob(t, map[string]string{"input.mif": "x"})

	req, err := runner.buildRequest(job)
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	if req.ClientID != job.ID {
		t.Errorf("Expected client id %q, got %q", job.ID, req.ClientID)
	}
	if string(req.Files["input.mif"]) != "x" {
		t.Errorf("Unexpected files %v", req.Files)
	}
}
