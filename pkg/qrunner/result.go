package qrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quatton/qmag/pkg/qerr"
)

// Exit is what a Handle reports once its process has finished.
type Exit struct {
	Code   int
	Stdout string
	Stderr string
}

// complete turns a finished process into a RunResult, or a CodeNonZeroExit
// error when it failed.
func complete(job Job, backend Backend, startedAt time.Time, exit *Exit) (*RunResult, error) {
	if exit.Code != 0 {
		return nil, qerr.NonZeroExit(exit.Code, exit.Stdout, exit.Stderr)
	}
	finishedAt := time.Now()
	return &RunResult{
		JobID:      job.ID,
		Backend:    string(backend),
		ExitCode:   exit.Code,
		Success:    true,
		Stdout:     exit.Stdout,
		Stderr:     exit.Stderr,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
	}, nil
}

// contextError maps a finished context to CodeTimeout or CodeCancelled.
// It returns nil while ctx is still live.
func contextError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return qerr.WithHint(qerr.CodeTimeout, err, "increase the timeout or shorten the simulation")
	default:
		return qerr.New(qerr.CodeCancelled, err)
	}
}

// unavailable builds a CodeBackendUnavailable error with a hint.
func unavailable(hint string, format string, args ...any) error {
	return qerr.WithHint(qerr.CodeBackendUnavailable, fmt.Errorf(format, args...), hint)
}
