package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RunRecord is one finished run, from the CLI driver or the server.
type RunRecord struct {
	bun.BaseModel `bun:"table:run_records,alias:rr"`

	JobID      string    `bun:",pk"`
	Name       string    `bun:",notnull"`
	Backend    string    `bun:",notnull"`
	Source     string    `bun:",notnull"` // "cli" or "server"
	JobDir     string    `bun:",nullzero"`
	Success    bool      `bun:",notnull"`
	ExitCode   int       `bun:",notnull"`
	Error      string    `bun:",nullzero"`
	ErrorCode  string    `bun:",nullzero"`
	StartedAt  time.Time `bun:",notnull"`
	FinishedAt time.Time `bun:",notnull"`
	DurationMS int64     `bun:"duration_ms,notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
