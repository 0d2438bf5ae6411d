package qsdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/quatton/qmag/pkg/db"
	"github.com/quatton/qmag/pkg/db/history"
	"github.com/quatton/qmag/pkg/qart"
	"github.com/quatton/qmag/pkg/qdriver"
	"github.com/quatton/qmag/pkg/qlog"
	"github.com/quatton/qmag/pkg/qrunner"
	"github.com/uptrace/bun"
)

// RunnerAuto asks the driver to pick a runner with the selector.
const RunnerAuto = "auto"

// Sdk turns a Config into runners, a selector and a driver so CLI commands
// don't need to wire them themselves. Runners are built lazily and reused.
type Sdk struct {
	Config *Config
	Logger *qlog.Logger

	// Stdout and Stderr, when set, receive job output as it is produced.
	Stdout io.Writer
	Stderr io.Writer

	local  *qrunner.LocalRunner
	docker *qrunner.DockerRunner
	remote *qrunner.RemoteRunner
	k8s    *qrunner.K8sRunner
	db     *bun.DB
}

func New(cfg *Config, logger *qlog.Logger) *Sdk {
	return &Sdk{Config: cfg, Logger: qlog.OrQuiet(logger)}
}

func (s *Sdk) options() []qrunner.Option {
	opts := []qrunner.Option{qrunner.WithLogger(s.Logger)}
	if s.Stdout != nil || s.Stderr != nil {
		opts = append(opts, qrunner.WithOutput(s.Stdout, s.Stderr))
	}
	return opts
}

// Runner returns the runner named by name, or by the config when name is
// empty. It returns nil and no error for "auto".
func (s *Sdk) Runner(name string) (qrunner.Runner, error) {
	if name == "" {
		name = s.Config.Runner
	}
	switch qrunner.Backend(strings.ToLower(name)) {
	case RunnerAuto, "":
		return nil, nil
	case qrunner.BackendLocal:
		return s.LocalRunner(), nil
	case qrunner.BackendDocker:
		return s.DockerRunner()
	case qrunner.BackendRemote:
		return s.RemoteRunner()
	case qrunner.BackendK8s:
		return s.K8sRunner()
	default:
		return nil, fmt.Errorf("unknown runner %q (want auto, local, docker, remote or k8s)", name)
	}
}

func (s *Sdk) LocalRunner() *qrunner.LocalRunner {
	if s.local == nil {
		s.local = qrunner.NewLocalRunner(qrunner.LocalConfig{
			Command: strings.Fields(s.Config.OOMMF.Command),
			Env:     s.Config.Env,
		}, s.options()...)
	}
	return s.local
}

// ContainerConfig is the container setup shared by docker and k8s.
func (s *Sdk) ContainerConfig() qrunner.ContainerConfig {
	c := s.Config.Docker
	cfg := qrunner.DefaultContainerConfig()
	if c.Image != "" {
		cfg.Image = c.Image
	}
	if cmd := strings.Fields(c.Command); len(cmd) > 0 {
		cfg.Command = cmd
	}
	if c.Network != "" {
		cfg.NetworkMode = c.Network
	}
	cfg.User = c.User
	cfg.Env = s.Config.Env
	cfg.Mounts = c.Mounts
	cfg.Resources.CPULimit = c.CPULimit
	cfg.Resources.MemoryLimit = c.MemoryLimit
	return cfg
}

func (s *Sdk) DockerRunner() (*qrunner.DockerRunner, error) {
	if s.docker == nil {
		r, err := qrunner.NewDockerRunner(s.ContainerConfig(), s.options()...)
		if err != nil {
			return nil, err
		}
		s.docker = r
	}
	return s.docker, nil
}

func (s *Sdk) RemoteRunner() (*qrunner.RemoteRunner, error) {
	if s.remote != nil {
		return s.remote, nil
	}
	if s.Config.Remote.URL == "" {
		return nil, errors.New("remote.url is not configured")
	}
	token, err := s.Config.RemoteToken()
	if err != nil {
		s.Logger.Warn("could not read token from keyring", "error", err)
	}
	r, err := qrunner.NewRemoteRunner(qrunner.RemoteConfig{
		BaseURL:    s.Config.Remote.URL,
		Token:      token,
		MaxRetries: s.Config.Remote.Retries,
	}, s.options()...)
	if err != nil {
		return nil, err
	}
	s.remote = r
	return r, nil
}

func (s *Sdk) K8sRunner() (*qrunner.K8sRunner, error) {
	if s.k8s != nil {
		return s.k8s, nil
	}
	container := s.ContainerConfig()
	if s.Config.K8s.Image != "" {
		container.Image = s.Config.K8s.Image
	}
	r, err := qrunner.NewK8sRunner(qrunner.K8sConfig{
		Kubeconfig: s.Config.K8s.Kubeconfig,
		Namespace:  s.Config.K8s.Namespace,
		QueueName:  s.Config.K8s.Queue,
		Container:  container,
	}, s.options()...)
	if err != nil {
		return nil, err
	}
	s.k8s = r
	return r, nil
}

// Selector chooses between the local runner and docker. Docker is left out
// when its client cannot be created.
func (s *Sdk) Selector() *qrunner.Selector {
	sel := qrunner.NewSelector(s.LocalRunner(), nil)
	if docker, err := s.DockerRunner(); err == nil {
		sel.Container = docker
	} else {
		s.Logger.Debug("docker unavailable for selection", "error", err)
	}
	return sel
}

// Platform describes this host for the configured OOMMF command.
func (s *Sdk) Platform() qrunner.Platform {
	return qrunner.DetectPlatform(s.LocalRunner().Command())
}

// Driver builds a driver writing status lines to status, with artifact
// upload and history when they are configured.
func (s *Sdk) Driver(ctx context.Context, status io.Writer) (*qdriver.Driver, error) {
	baseDir, err := s.Config.ResolveBaseDir()
	if err != nil {
		return nil, err
	}

	opts := []qdriver.Option{
		qdriver.WithLogger(s.Logger),
		qdriver.WithStatus(status),
		qdriver.WithPlatform(s.Platform()),
	}

	if s.Config.Artifacts.Enabled() {
		store, err := qart.NewS3Store(s.Config.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("configuring artifact store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("checking artifact bucket: %w", err)
		}
		opts = append(opts, qdriver.WithArtifacts(store))
	}

	if s.Config.DB.URL != "" {
		database, err := s.Database(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, qdriver.WithHistory(history.NewRecorder(database, history.SourceCLI)))
	}

	return qdriver.New(baseDir, s.Selector(), opts...)
}

// Database connects to the history database once.
func (s *Sdk) Database(ctx context.Context) (*bun.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	database, err := db.New(ctx, s.Config.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}
	s.db = database
	return database, nil
}

// Close releases clients opened by the Sdk.
func (s *Sdk) Close() error {
	var errs []error
	if s.docker != nil {
		errs = append(errs, s.docker.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
