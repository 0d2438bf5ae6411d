package qrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

// fakeEngine runs each "container" as a host process in the bind-mounted job
// directory, so container jobs behave like their local equivalents.
type fakeEngine struct {
	mu sync.Mutex

	images  map[string]bool
	pullErr error
	pingErr error

	// pullGate, when set, blocks PullImage until closed or the pull's
	// context ends. pullStarted receives once per pull.
	pullGate    chan struct{}
	pullStarted chan struct{}

	pulls    int
	created  map[string]fakeContainer
	removed  map[string]int
	nextID   int
	lastSpec fakeContainer
}

type fakeContainer struct {
	name   string
	config *container.Config
	host   *container.HostConfig
	stdout string
	stderr string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		images:  make(map[string]bool),
		created: make(map[string]fakeContainer),
		removed: make(map[string]int),
	}
}

func (e *fakeEngine) Ping(ctx context.Context) error { return e.pingErr }

func (e *fakeEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[ref], nil
}

func (e *fakeEngine) PullImage(ctx context.Context, ref string) error {
	if e.pullStarted != nil {
		select {
		case e.pullStarted <- struct{}{}:
		default:
		}
	}
	if e.pullGate != nil {
		select {
		case <-e.pullGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pulls++
	if e.pullErr != nil {
		return e.pullErr
	}
	e.images[ref] = true
	return nil
}

func (e *fakeEngine) CreateContainer(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := fmt.Sprintf("c%d", e.nextID)
	c := fakeContainer{name: name, config: cfg, host: host}
	e.created[id] = c
	e.lastSpec = c
	return id, nil
}

func (e *fakeEngine) StartContainer(ctx context.Context, id string) error { return nil }

func (e *fakeEngine) WaitContainer(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	c, ok := e.created[id]
	e.mu.Unlock()
	if !ok {
		return -1, errors.New("no such container")
	}

	var dir string
	for _, m := range c.host.Mounts {
		if m.Type == mount.TypeBind && m.Target == c.config.WorkingDir {
			dir = m.Source
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.config.Cmd[0], c.config.Cmd[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.config.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	e.mu.Lock()
	c.stdout, c.stderr = stdout.String(), stderr.String()
	e.created[id] = c
	e.mu.Unlock()

	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

func (e *fakeEngine) ContainerOutput(ctx context.Context, id string) (string, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.created[id]
	return c.stdout, c.stderr, nil
}

func (e *fakeEngine) RemoveContainer(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed[id]++
	return nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) pullCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pulls
}

// leaked returns containers that were not removed exactly once.
func (e *fakeEngine) leaked() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id := range e.created {
		if e.removed[id] != 1 {
			ids = append(ids, id)
		}
	}
	return ids
}
