// Package history stores run records in Postgres.
package history

import (
	"context"
	"fmt"

	"github.com/quatton/qmag/pkg/db/models"
	"github.com/quatton/qmag/pkg/qdriver"
	"github.com/uptrace/bun"
)

const (
	SourceCLI    = "cli"
	SourceServer = "server"
)

// Recorder implements qdriver.Recorder on bun.
type Recorder struct {
	db     bun.IDB
	source string
}

func NewRecorder(db bun.IDB, source string) *Recorder {
	return &Recorder{db: db, source: source}
}

// Record upserts rec keyed by job ID.
func (r *Recorder) Record(ctx context.Context, rec qdriver.RunRecord) error {
	row := ToModel(rec, r.source)
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (job_id) DO UPDATE").
		Set("success = EXCLUDED.success").
		Set("exit_code = EXCLUDED.exit_code").
		Set("error = EXCLUDED.error").
		Set("error_code = EXCLUDED.error_code").
		Set("finished_at = EXCLUDED.finished_at").
		Set("duration_ms = EXCLUDED.duration_ms").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", rec.JobID, err)
	}
	return nil
}

// Recent returns the newest records first, optionally only for one system.
func (r *Recorder) Recent(ctx context.Context, name string, limit int) ([]models.RunRecord, error) {
	var rows []models.RunRecord
	q := r.db.NewSelect().Model(&rows).Order("started_at DESC").Limit(limit)
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// ToModel maps a driver record onto the table row.
func ToModel(rec qdriver.RunRecord, source string) *models.RunRecord {
	return &models.RunRecord{
		JobID:      rec.JobID,
		Name:       rec.Name,
		Backend:    rec.Backend,
		Source:     source,
		JobDir:     rec.JobDir,
		Success:    rec.Success,
		ExitCode:   rec.ExitCode,
		Error:      rec.Error,
		ErrorCode:  rec.ErrorCode,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		DurationMS: rec.Duration.Milliseconds(),
	}
}

var _ qdriver.Recorder = (*Recorder)(nil)
