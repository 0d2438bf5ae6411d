// Package runs executes submitted jobs on the server's runner and keeps
// their state in a kv.Store until it expires.
package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qmag/pkg/kv"
	"github.com/quatton/qmag/pkg/qapi/schemas"
	"github.com/quatton/qmag/pkg/qart"
	"github.com/quatton/qmag/pkg/qdriver"
	"github.com/quatton/qmag/pkg/qerr"
	"github.com/quatton/qmag/pkg/qlog"
	"github.com/quatton/qmag/pkg/qrunner"
)

const (
	keyPrefix       = "run:"
	clientKeyPrefix = "client:"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrInvalidRun  = errors.New("invalid run")
)

type Config struct {
	Runner  qrunner.Runner
	Store   kv.Store
	WorkDir string
	// TTL bounds how long run state is kept; 0 keeps it forever.
	TTL time.Duration
	// KeepWorkDirs leaves job directories in place after collection.
	KeepWorkDirs bool

	Artifacts qart.Store       // optional
	History   qdriver.Recorder // optional
	Logger    *qlog.Logger
}

type Service struct {
	cfg    Config
	logger *qlog.Logger
	now    func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// submitMu serializes submissions carrying a client ID so a repeated
	// key cannot start a second run.
	submitMu sync.Mutex
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runs: a runner is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("runs: a kv store is required")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "qmag-runs")
	}
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}
	cfg.WorkDir = workDir
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	logger := qlog.OrQuiet(cfg.Logger)
	return &Service{
		cfg:     cfg,
		logger:  logger.With("component", "runs"),
		now:     time.Now,
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Backend names the runner executing submitted jobs.
func (s *Service) Backend() string {
	return qrunner.BackendName(s.cfg.Runner)
}

// Check reports whether the runner can currently execute jobs.
func (s *Service) Check(ctx context.Context) error {
	if c, ok := s.cfg.Runner.(qrunner.Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// Submit materializes the request's files and starts the run in the
// background. The returned state is pending. A request whose ClientID was
// already submitted returns that run instead of starting another.
func (s *Service) Submit(ctx context.Context, req schemas.SubmitRunRequest) (*schemas.RunResponse, error) {
	if req.ClientID != "" {
		s.submitMu.Lock()
		defer s.submitMu.Unlock()

		existing, err := s.byClientID(ctx, req.ClientID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("duplicate submission", "id", existing.ID, "client_id", req.ClientID)
			return existing, nil
		}
	}

	inputs := make([]string, 0, len(req.Files))
	for name := range req.Files {
		if err := qrunner.ValidateFileName(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRun, err)
		}
		inputs = append(inputs, name)
	}
	sort.Strings(inputs)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}

	dir := filepath.Join(s.cfg.WorkDir, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating job dir: %w", err)
	}
	for _, name := range inputs {
		if err := os.WriteFile(filepath.Join(dir, name), req.Files[name], 0o644); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("writing input %s: %w", name, err)
		}
	}

	job := qrunner.Job{
		ID:     id.String(),
		Name:   req.Name,
		Dir:    dir,
		Inputs: inputs,
		Args:   req.Args,
		Env:    req.Env,
	}
	if err := job.Validate(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}

	run := &schemas.RunResponse{
		ID:        job.ID,
		Name:      job.Name,
		Backend:   s.Backend(),
		Status:    schemas.RunStatusPending,
		CreatedAt: s.timestamp(),
	}
	if err := s.save(ctx, run); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	if req.ClientID != "" {
		if err := s.cfg.Store.Set(ctx, clientKeyPrefix+req.ClientID, []byte(job.ID), s.cfg.TTL); err != nil {
			s.logger.Warn("failed to record client id", "id", job.ID, "client_id", req.ClientID, "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.ID)
		s.execute(runCtx, job, req.Files)
	}()

	s.logger.Info("run submitted", "id", job.ID, "name", job.Name, "inputs", len(inputs))
	return run, nil
}

// byClientID returns the run submitted under clientID, or nil when there is
// none or it has expired.
func (s *Service) byClientID(ctx context.Context, clientID string) (*schemas.RunResponse, error) {
	id, err := s.cfg.Store.Get(ctx, clientKeyPrefix+clientID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run, err := s.Get(ctx, string(id))
	if errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	return run, err
}

// Get returns the stored state of a run.
func (s *Service) Get(ctx context.Context, id string) (*schemas.RunResponse, error) {
	data, err := s.cfg.Store.Get(ctx, keyPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var run schemas.RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &run, nil
}

// List returns every stored run, newest first, without output files.
func (s *Service) List(ctx context.Context) ([]schemas.RunResponse, error) {
	keys, err := s.cfg.Store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	runs := make([]schemas.RunResponse, 0, len(keys))
	for _, key := range keys {
		run, err := s.Get(ctx, key[len(keyPrefix):])
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		run.Files = nil
		runs = append(runs, *run)
	}
	// UUIDv7 ids sort by creation time.
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	return runs, nil
}

// Cancel stops a pending or running run. Runs owned by this process end up
// cancelled once their runner returns; runs with no live owner are marked
// cancelled immediately.
func (s *Service) Cancel(ctx context.Context, id string) (*schemas.RunResponse, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		s.logger.Info("cancelling run", "id", id)
		cancel()
		return run, nil
	}

	run.Status = schemas.RunStatusCancelled
	finished := s.timestamp()
	run.FinishedAt = &finished
	if err := s.save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Artifacts lists the uploaded files of a run.
func (s *Service) Artifacts(ctx context.Context, id string) ([]*qart.Artifact, error) {
	if s.cfg.Artifacts == nil {
		return nil, nil
	}
	return s.cfg.Artifacts.List(ctx, qart.JobPrefix(id))
}

// ArtifactURL returns a presigned download URL for one uploaded file.
func (s *Service) ArtifactURL(ctx context.Context, id, filename string) (string, error) {
	if s.cfg.Artifacts == nil {
		return "", nil
	}
	if err := qrunner.ValidateFileName(filename); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	return s.cfg.Artifacts.PresignedURL(ctx, qart.JobKey(id, filename), time.Hour)
}

// ArtifactsEnabled reports whether an artifact store is configured.
func (s *Service) ArtifactsEnabled() bool {
	return s.cfg.Artifacts != nil
}

// Close cancels every in-flight run and waits for them to settle.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

// Wait blocks until every in-flight run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) execute(ctx context.Context, job qrunner.Job, inputs map[string][]byte) {
	// Bookkeeping uses its own context so a cancelled run can still be saved.
	bg := context.WithoutCancel(ctx)

	startedAt := s.now()
	run, err := s.Get(bg, job.ID)
	if err != nil {
		s.logger.Error("run state vanished before start", "id", job.ID, "error", err)
		return
	}
	started := startedAt.UTC().Format(time.RFC3339)
	run.Status = schemas.RunStatusRunning
	run.StartedAt = &started
	if err := s.save(bg, run); err != nil {
		s.logger.Error("saving run state", "id", job.ID, "error", err)
	}

	s.logger.Debug("run started", "id", job.ID, "backend", s.Backend())
	result, runErr := s.cfg.Runner.Run(ctx, job)
	finishedAt := s.now()

	applyOutcome(run, result, runErr)
	finished := finishedAt.UTC().Format(time.RFC3339)
	run.FinishedAt = &finished

	if run.Status == schemas.RunStatusSucceeded || run.Status == schemas.RunStatusFailed {
		files, err := collectOutputs(job.Dir, inputs)
		if err != nil {
			s.logger.Warn("collecting outputs", "id", job.ID, "error", err)
		}
		run.Files = files
		s.writeLogs(job.Dir, run.Stdout, run.Stderr)
	}

	if err := s.save(bg, run); err != nil {
		s.logger.Error("saving run state", "id", job.ID, "error", err)
	}
	s.logger.Info("run finished", "id", job.ID, "status", run.Status, "duration", finishedAt.Sub(startedAt))

	s.archive(bg, job, run, startedAt, finishedAt, runErr)

	if !s.cfg.KeepWorkDirs {
		if err := os.RemoveAll(job.Dir); err != nil {
			s.logger.Warn("removing job dir", "id", job.ID, "error", err)
		}
	}
}

// applyOutcome folds a runner's result or error into the run state.
func applyOutcome(run *schemas.RunResponse, result *qrunner.RunResult, err error) {
	if err == nil {
		code := result.ExitCode
		run.Status = schemas.RunStatusSucceeded
		run.ExitCode = &code
		run.Stdout = result.Stdout
		run.Stderr = result.Stderr
		return
	}

	if exit, ok := qerr.AsExit(err); ok {
		code := exit.ExitCode
		run.Status = schemas.RunStatusFailed
		run.ExitCode = &code
		run.Stdout = exit.Stdout
		run.Stderr = exit.Stderr
		return
	}

	code := qerr.CodeOf(err)
	if code == qerr.CodeCancelled {
		run.Status = schemas.RunStatusCancelled
		return
	}
	run.Status = schemas.RunStatusError
	run.Error = err.Error()
	run.ErrorCode = string(code)
}

// archive uploads artifacts and records history. Failures are logged only.
func (s *Service) archive(ctx context.Context, job qrunner.Job, run *schemas.RunResponse, startedAt, finishedAt time.Time, runErr error) {
	if s.cfg.Artifacts != nil {
		names := append([]string{qdriver.StdoutFile, qdriver.StderrFile}, job.Inputs...)
		for name := range run.Files {
			names = append(names, name)
		}
		meta := map[string]string{"run-id": job.ID, "backend": run.Backend}
		if _, err := qart.UploadFiles(ctx, s.cfg.Artifacts, job.ID, job.Dir, uniq(names), meta); err != nil {
			s.logger.Warn("uploading artifacts", "id", job.ID, "error", err)
		}
	}

	if s.cfg.History != nil {
		rec := qdriver.RunRecord{
			JobID:      job.ID,
			Name:       job.Name,
			Backend:    run.Backend,
			JobDir:     job.Dir,
			Success:    run.Status == schemas.RunStatusSucceeded,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Duration:   finishedAt.Sub(startedAt),
		}
		if run.ExitCode != nil {
			rec.ExitCode = *run.ExitCode
		}
		if runErr != nil {
			rec.Error = runErr.Error()
			rec.ErrorCode = string(qerr.CodeOf(runErr))
		}
		if err := s.cfg.History.Record(ctx, rec); err != nil {
			s.logger.Warn("recording history", "id", job.ID, "error", err)
		}
	}
}

func (s *Service) save(ctx context.Context, run *schemas.RunResponse) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", run.ID, err)
	}
	if err := s.cfg.Store.Set(ctx, keyPrefix+run.ID, data, s.cfg.TTL); err != nil {
		return fmt.Errorf("storing run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// collectOutputs returns regular files in dir that are new or differ from
// the submitted inputs.
func collectOutputs(dir string, inputs map[string][]byte) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return files, err
		}
		if orig, ok := inputs[e.Name()]; ok && bytes.Equal(orig, data) {
			continue
		}
		files[e.Name()] = data
	}
	return files, nil
}

func (s *Service) writeLogs(dir, stdout, stderr string) {
	if err := os.WriteFile(filepath.Join(dir, qdriver.StdoutFile), []byte(stdout), 0o644); err != nil {
		s.logger.Warn("failed to write stdout log", "dir", dir, "error", err)
	}
	if err := os.WriteFile(filepath.Join(dir, qdriver.StderrFile), []byte(stderr), 0o644); err != nil {
		s.logger.Warn("failed to write stderr log", "dir", dir, "error", err)
	}
}

func uniq(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
