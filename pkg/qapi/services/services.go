package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/quatton/qmag/pkg/db/history"
	"github.com/quatton/qmag/pkg/kv"
	"github.com/quatton/qmag/pkg/qapi/config"
	"github.com/quatton/qmag/pkg/qapi/services/iam"
	"github.com/quatton/qmag/pkg/qapi/services/runs"
	"github.com/quatton/qmag/pkg/qart"
	"github.com/quatton/qmag/pkg/qlog"
	"github.com/quatton/qmag/pkg/qrunner"
	"github.com/uptrace/bun"
)

type Services struct {
	IAM  *iam.IAMService
	Runs *runs.Service
}

// NewServices wires the server's runner, state store and optional artifact
// and history sinks. db may be nil when history is disabled.
func NewServices(ctx context.Context, cfg *config.EnvConfig, db *bun.DB, kvStore kv.Store, logger *qlog.Logger) (*Services, error) {
	runner, err := NewRunner(cfg, logger)
	if err != nil {
		return nil, err
	}

	runsCfg := runs.Config{
		Runner:  runner,
		Store:   kvStore,
		WorkDir: cfg.WorkDir,
		TTL:     cfg.RunTTL,
		Logger:  logger,
	}

	if cfg.S3.Enabled() {
		store, err := qart.NewS3Store(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("configuring artifact store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("checking artifact bucket: %w", err)
		}
		runsCfg.Artifacts = store
	}

	if db != nil {
		runsCfg.History = history.NewRecorder(db, history.SourceServer)
	}

	runsSvc, err := runs.NewService(runsCfg)
	if err != nil {
		return nil, err
	}

	return &Services{
		IAM:  iam.NewIAMService(cfg.AuthSecret),
		Runs: runsSvc,
	}, nil
}

// NewRunner builds the runner named by cfg.Runner.
func NewRunner(cfg *config.EnvConfig, logger *qlog.Logger) (qrunner.Runner, error) {
	command := strings.Fields(cfg.OOMMFCommand)
	opts := []qrunner.Option{qrunner.WithLogger(logger)}

	container := qrunner.DefaultContainerConfig()
	container.Image = cfg.DockerImage
	container.Command = command

	switch qrunner.Backend(cfg.Runner) {
	case qrunner.BackendLocal:
		return qrunner.NewLocalRunner(qrunner.LocalConfig{Command: command}, opts...), nil
	case qrunner.BackendDocker:
		return qrunner.NewDockerRunner(container, opts...)
	case qrunner.BackendK8s:
		return qrunner.NewK8sRunner(qrunner.K8sConfig{
			Namespace: cfg.K8sNamespace,
			QueueName: cfg.K8sQueue,
			Container: container,
		}, opts...)
	default:
		return nil, fmt.Errorf("unsupported runner %q", cfg.Runner)
	}
}

// Close stops in-flight runs.
func (s *Services) Close() {
	if s.Runs != nil {
		s.Runs.Close()
	}
}
