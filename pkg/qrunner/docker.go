package qrunner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/quatton/qmag/pkg/qlog"
)

const containerCleanupTimeout = 30 * time.Second

// DockerRunner executes jobs in throwaway Docker containers with the job
// directory bind-mounted as the working directory. The image is pulled at
// most once per process through the image cache.
type DockerRunner struct {
	config ContainerConfig
	engine engine
	cache  *ImageCache
	logger *qlog.Logger
}

// NewDockerRunner creates a Docker runner using the daemon configured by the
// standard DOCKER_* environment variables. No connection is made until the
// first job or Check.
func NewDockerRunner(config ContainerConfig, opts ...Option) (*DockerRunner, error) {
	eng, err := newDockerEngine()
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newDockerRunner(config, eng, opts...), nil
}

func newDockerRunner(config ContainerConfig, eng engine, opts ...Option) *DockerRunner {
	o := buildOptions(opts)
	return &DockerRunner{
		config: config.withDefaults(),
		engine: eng,
		cache:  o.cache,
		logger: o.logger.With("backend", BackendDocker),
	}
}

func (r *DockerRunner) Name() string { return string(BackendDocker) }

// Image returns the configured image tag.
func (r *DockerRunner) Image() string { return r.config.Image }

// Close releases the docker client.
func (r *DockerRunner) Close() error {
	return r.engine.Close()
}

// Check verifies the daemon is reachable.
func (r *DockerRunner) Check(ctx context.Context) error {
	if err := r.engine.Ping(ctx); err != nil {
		return unavailable("start the Docker daemon or set DOCKER_HOST",
			"docker daemon unreachable: %w", err)
	}
	return nil
}

// EnsureImage makes the configured image available locally, pulling it on
// first use. Later calls for the same tag are no-ops.
func (r *DockerRunner) EnsureImage(ctx context.Context) error {
	tag := r.config.Image
	err := r.cache.Ensure(ctx, tag, func(ctx context.Context) error {
		exists, err := r.engine.ImageExists(ctx, tag)
		if err != nil {
			return err
		}
		if exists {
			r.logger.Debug("image present", "image", tag)
			return nil
		}
		r.logger.Info("pulling image", "image", tag)
		return r.engine.PullImage(ctx, tag)
	})
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return cerr
		}
		return unavailable(fmt.Sprintf("check the image name or run `docker pull %s`", tag),
			"image %s unavailable: %w", tag, err)
	}
	return nil
}

// Start creates and starts the job's container.
func (r *DockerRunner) Start(ctx context.Context, job Job) (Handle, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := r.EnsureImage(ctx); err != nil {
		return nil, err
	}

	cfg, host, err := r.containerSpec(job)
	if err != nil {
		return nil, err
	}

	name := containerName(job.ID)
	id, err := r.engine.CreateContainer(ctx, name, cfg, host)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, unavailable("check that the Docker daemon is running",
			"creating container: %w", err)
	}

	h := &containerHandle{engine: r.engine, id: id, logger: r.logger}
	if err := r.engine.StartContainer(ctx, id); err != nil {
		h.release()
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, unavailable(fmt.Sprintf("check that %v exists in %s", r.config.Command, r.config.Image),
			"starting container: %w", err)
	}

	r.logger.Debug("container started", "job", job.ID, "container", name)
	return h, nil
}

func (r *DockerRunner) Run(ctx context.Context, job Job) (*RunResult, error) {
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
			return nil, cerr
		}
		return nil, fmt.Errorf("waiting for container: %w", err)
	}

	return complete(job, BackendDocker, startedAt, exit)
}

// containerSpec builds the Docker container configuration for a job.
func (r *DockerRunner) containerSpec(job Job) (*container.Config, *container.HostConfig, error) {
	env := make(map[string]string)
	for k, v := range r.config.Env {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	env["QMAG_JOB_ID"] = job.ID
	env["QMAG_JOB_DIR"] = r.config.WorkDir

	cfg := &container.Config{
		Image:      r.config.Image,
		Cmd:        append(append([]string{}, r.config.Command...), job.Args...),
		Env:        mapToEnvList(env),
		WorkingDir: r.config.WorkDir,
		User:       r.config.User,
		Labels: map[string]string{
			"qmag.job-id": job.ID,
		},
	}

	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: job.Dir,
		Target: r.config.WorkDir,
	}}
	for _, m := range r.config.Mounts {
		typ := mount.TypeBind
		if m.Type != "" {
			typ = mount.Type(m.Type)
		}
		mounts = append(mounts, mount.Mount{
			Type:     typ,
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: m.ReadOnly,
		})
	}

	cpus, err := nanoCPUs(r.config.Resources.CPULimit)
	if err != nil {
		return nil, nil, err
	}
	memory, err := memoryBytes(r.config.Resources.MemoryLimit)
	if err != nil {
		return nil, nil, err
	}

	host := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(r.config.NetworkMode),
		Resources: container.Resources{
			NanoCPUs: cpus,
			Memory:   memory,
		},
	}

	return cfg, host, nil
}

// containerHandle is a Handle over one container. The container is removed
// exactly once, whichever way Wait or Stop ends.
type containerHandle struct {
	engine engine
	id     string
	logger *qlog.Logger
	once   sync.Once
}

func (h *containerHandle) Wait(ctx context.Context) (*Exit, error) {
	defer h.release()

	code, err := h.engine.WaitContainer(ctx, h.id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	stdout, stderr, err := h.engine.ContainerOutput(ctx, h.id)
	if err != nil {
		return nil, fmt.Errorf("reading container output: %w", err)
	}

	return &Exit{Code: code, Stdout: stdout, Stderr: stderr}, nil
}

func (h *containerHandle) Stop(ctx context.Context) error {
	return h.release()
}

// release force-removes the container, which also kills it if still
// running. It uses a context detached from the caller's cancellation.
func (h *containerHandle) release() error {
	var err error
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
		defer cancel()
		err = h.engine.RemoveContainer(ctx, h.id)
		if err != nil {
			h.logger.Warn("failed to remove container", "container", h.id, "error", err)
			return
		}
		h.logger.Debug("container removed", "container", h.id)
	})
	return err
}

func containerName(jobID string) string {
	var b strings.Builder
	b.WriteString("qmag-")
	for _, c := range jobID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

var _ Runner = (*DockerRunner)(nil)
