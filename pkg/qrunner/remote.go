package qrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quatton/qmag/pkg/qapi/schemas"
	"github.com/quatton/qmag/pkg/qerr"
	"github.com/quatton/qmag/pkg/qlog"
	"golang.org/x/oauth2"
	"k8s.io/apimachinery/pkg/util/wait"
)

// RemoteConfig configures a RemoteRunner.
type RemoteConfig struct {
	// BaseURL of a qmag server, e.g. http://sim-host:3000
	BaseURL string

	// Token is sent as a bearer token when set. TokenSource wins if both
	// are given.
	Token       string
	TokenSource oauth2.TokenSource

	// MaxRetries bounds how many times a failed request is attempted
	// before a transport error is surfaced.
	MaxRetries int

	// RetryDelay is the initial backoff between attempts; it doubles on
	// every retry.
	RetryDelay time.Duration
}

const (
	defaultRemoteRetries = 4
	defaultRetryDelay    = 250 * time.Millisecond
	defaultPollInterval  = time.Second
	remoteCancelTimeout  = 10 * time.Second
)

// RemoteRunner ships a job's input files to a qmag server, waits for the
// remote run to finish and writes the returned output files back into the
// job directory.
type RemoteRunner struct {
	config       RemoteConfig
	client       *http.Client
	pollInterval time.Duration
	logger       *qlog.Logger
}

// NewRemoteRunner creates a runner for the server at config.BaseURL.
func NewRemoteRunner(config RemoteConfig, opts ...Option) (*RemoteRunner, error) {
	if config.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultRemoteRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}

	o := buildOptions(opts)
	base := o.httpClient
	if base == nil {
		base = &http.Client{Timeout: 2 * time.Minute}
	}

	client := base
	ts := config.TokenSource
	if ts == nil && config.Token != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token, TokenType: "Bearer"})
	}
	if ts != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, ts)
		client.Timeout = base.Timeout
	}

	interval := o.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &RemoteRunner{
		config:       config,
		client:       client,
		pollInterval: interval,
		logger:       o.logger.With("backend", BackendRemote),
	}, nil
}

func (r *RemoteRunner) Name() string { return string(BackendRemote) }

// Check pings the server's health endpoint.
func (r *RemoteRunner) Check(ctx context.Context) error {
	var health schemas.HealthResponse
	if err := r.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return r.classify(ctx, err)
	}
	return nil
}

func (r *RemoteRunner) Run(ctx context.Context, job Job) (*RunResult, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	req, err := r.buildRequest(job)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	// The job ID doubles as the idempotency key, so a retried submission
	// after a dropped response resolves to the run already accepted.
	var submitted schemas.RunResponse
	if err := r.retry(ctx, func(ctx context.Context) error {
		return r.do(ctx, http.MethodPost, "/api/runs", req, &submitted)
	}); err != nil {
		return nil, r.classify(ctx, err)
	}
	r.logger.Debug("run submitted", "job", job.ID, "remote_id", submitted.ID)

	final, err := r.poll(ctx, submitted.ID)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			r.cancelRemote(ctx, submitted.ID)
			return nil, cerr
		}
		return nil, r.classify(ctx, err)
	}

	if err := writeFiles(job.Dir, final.Files); err != nil {
		return nil, fmt.Errorf("writing remote outputs: %w", err)
	}

	return r.toResult(job, startedAt, final)
}

func (r *RemoteRunner) buildRequest(job Job) (*schemas.SubmitRunRequest, error) {
	files := make(map[string][]byte, len(job.Inputs))
	for _, name := range job.Inputs {
		data, err := os.ReadFile(filepath.Join(job.Dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", name, err)
		}
		files[name] = data
	}
	return &schemas.SubmitRunRequest{
		Name:     job.Name,
		ClientID: job.ID,
		Args:     job.Args,
		Env:      job.Env,
		Files:    files,
	}, nil
}

// poll waits for the remote run to reach a terminal state. Transport
// failures while polling are retried like any other request.
func (r *RemoteRunner) poll(ctx context.Context, id string) (*schemas.RunResponse, error) {
	var current schemas.RunResponse
	err := wait.PollUntilContextCancel(ctx, r.pollInterval, true, func(ctx context.Context) (bool, error) {
		err := r.retry(ctx, func(ctx context.Context) error {
			return r.do(ctx, http.MethodGet, "/api/runs/"+id, nil, &current)
		})
		if err != nil {
			return false, err
		}
		return current.Status.Terminal(), nil
	})
	if err != nil {
		return nil, err
	}
	return &current, nil
}

func (r *RemoteRunner) toResult(job Job, startedAt time.Time, run *schemas.RunResponse) (*RunResult, error) {
	switch run.Status {
	case schemas.RunStatusSucceeded, schemas.RunStatusFailed:
		code := 0
		if run.ExitCode != nil {
			code = *run.ExitCode
		} else if run.Status == schemas.RunStatusFailed {
			code = -1
		}
		return complete(job, BackendRemote, startedAt, &Exit{Code: code, Stdout: run.Stdout, Stderr: run.Stderr})
	case schemas.RunStatusCancelled:
		return nil, qerr.Errorf(qerr.CodeCancelled, "remote run %s was cancelled", run.ID)
	default:
		code := qerr.Code(run.ErrorCode)
		if code == "" {
			code = qerr.CodeUnknown
		}
		return nil, qerr.WithHint(code, fmt.Errorf("remote run %s: %s", run.ID, run.Error),
			"check the qmag server's backend configuration")
	}
}

// cancelRemote asks the server to stop a run after the local context ended.
// It is best effort; the server also reaps runs on its own.
func (r *RemoteRunner) cancelRemote(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteCancelTimeout)
	defer cancel()
	if err := r.do(cctx, http.MethodDelete, "/api/runs/"+id, nil, nil); err != nil {
		r.logger.Warn("failed to cancel remote run", "remote_id", id, "error", err)
	}
}

// retry runs fn with exponential backoff while it fails with a retryable
// error. The last error is returned once attempts are exhausted.
func (r *RemoteRunner) retry(ctx context.Context, fn func(context.Context) error) error {
	backoff := wait.Backoff{
		Duration: r.config.RetryDelay,
		Factor:   2,
		Jitter:   0.1,
		Steps:    r.config.MaxRetries,
	}

	var lastErr error
	attempt := 0
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		lastErr = fn(ctx)
		if lastErr == nil {
			return true, nil
		}
		if !retryable(lastErr) || ctx.Err() != nil {
			return false, lastErr
		}
		r.logger.Debug("request failed, retrying", "attempt", attempt, "error", lastErr)
		return false, nil
	})
	if err != nil && lastErr != nil && ctx.Err() == nil {
		return lastErr
	}
	return err
}

// classify maps request failures onto the qerr taxonomy.
func (r *RemoteRunner) classify(ctx context.Context, err error) error {
	if cerr := contextError(ctx); cerr != nil {
		return cerr
	}
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return qerr.WithHint(qerr.CodeBackendUnavailable, err, "run `qmag auth login` or set remote.token")
		case se.Code == http.StatusServiceUnavailable:
			return qerr.WithHint(qerr.CodeBackendUnavailable, err, "the server has no backend configured")
		case se.Code >= 500 || se.Code == http.StatusTooManyRequests:
			return qerr.New(qerr.CodeTransport, err)
		default:
			return err
		}
	}
	return qerr.WithHint(qerr.CodeTransport, err, fmt.Sprintf("check that %s is reachable", r.config.BaseURL))
}

// do sends one JSON request and decodes the JSON response into out.
func (r *RemoteRunner) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

type statusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Anything below HTTP (dial, reset, EOF) is a transport failure.
	return true
}

// writeFiles stores returned files in dir, rejecting names with paths.
func writeFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		if err := ValidateFileName(name); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

var _ Runner = (*RemoteRunner)(nil)
