package entity

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// DispatcherRun records one execution cycle of the dispatcher. A run without
// a finished_at past the expected cycle length indicates a stuck or crashed
// worker.
type DispatcherRun struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	RunID      string         `gorm:"uniqueIndex;not null" json:"run_id"`
	StartedAt  time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt sql.NullTime   `json:"finished_at"`
	Summary    datatypes.JSON `gorm:"type:jsonb" json:"summary"`
}

func (DispatcherRun) TableName() string {
	return "dispatcher_runs"
}
