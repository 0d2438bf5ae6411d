package qdriver

import (
	"context"
	"path/filepath"
	"time"

	"github.com/quatton/qmag/pkg/mif"
	"github.com/quatton/qmag/pkg/qrunner"
)

// Overhead is the cost of one minimal simulation.
type Overhead struct {
	Backend  string
	Duration time.Duration
	MIFPath  string
}

// MacrospinSystem is a single-cell system that finishes almost instantly.
func MacrospinSystem() System {
	return System{
		Name:   mif.MacrospinBasename,
		Script: mif.Macrospin(1e-12),
		Terms:  []string{qrunner.TermZeeman, qrunner.TermPrecession, qrunner.TermDamping},
	}
}

// MeasureOverhead drives MacrospinSystem and reports how long it took end
// to end, which is dominated by launching the backend.
func (d *Driver) MeasureOverhead(ctx context.Context, runner qrunner.Runner) (*Overhead, error) {
	sys := MacrospinSystem()
	job, err := d.Prepare(sys)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := d.Execute(ctx, sys, job, runner, 0)
	if err != nil {
		return nil, err
	}

	return &Overhead{
		Backend:  result.Backend,
		Duration: time.Since(start),
		MIFPath:  filepath.Join(job.Dir, sys.ScriptName()),
	}, nil
}
