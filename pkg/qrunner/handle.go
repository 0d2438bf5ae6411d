package qrunner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Handle wraps one spawned process or container. Wait blocks until it
// finishes; on every return path the underlying resources are released.
type Handle interface {
	// Wait blocks until the process exits or ctx is done. When ctx ends
	// first the process is stopped and ctx.Err() is returned.
	Wait(ctx context.Context) (*Exit, error)

	// Stop forcefully terminates the process and releases its resources.
	Stop(ctx context.Context) error
}

// processHandle is a Handle over an os/exec command running in its own
// process group.
type processHandle struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer

	done    chan struct{}
	waitErr error
	stop    sync.Once
}

const processWaitDelay = 5 * time.Second

func startProcess(cmd *exec.Cmd, teeOut, teeErr io.Writer) (*processHandle, error) {
	h := &processHandle{
		cmd:    cmd,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		done:   make(chan struct{}),
	}

	cmd.Stdout = tee(h.stdout, teeOut)
	cmd.Stderr = tee(h.stderr, teeErr)
	cmd.WaitDelay = processWaitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func (h *processHandle) Wait(ctx context.Context) (*Exit, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		_ = h.Stop(context.WithoutCancel(ctx))
		<-h.done
		return nil, ctx.Err()
	}

	exit := &Exit{
		Stdout: h.stdout.String(),
		Stderr: h.stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case h.waitErr == nil:
		exit.Code = 0
	case errors.As(h.waitErr, &exitErr):
		exit.Code = exitErr.ExitCode()
	case errors.Is(h.waitErr, exec.ErrWaitDelay):
		// The process exited but a descendant kept stdio open.
		exit.Code = h.cmd.ProcessState.ExitCode()
	default:
		return nil, h.waitErr
	}

	return exit, nil
}

func (h *processHandle) Stop(ctx context.Context) error {
	var err error
	h.stop.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}
		err = killProcessGroup(h.cmd)
	})
	return err
}
