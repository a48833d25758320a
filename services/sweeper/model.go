package sweeper

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

const (
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
)

// Job is the execution record of one expiry sweep.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	Task        string         `gorm:"column:task;index;type:varchar(100);not null"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'"`
	Cutoff      *time.Time     `gorm:"column:cutoff"`
	Deleted     int64          `gorm:"column:deleted;not null;default:0"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}

func (Job) TableName() string {
	return "qr_sweep_jobs"
}

func Models() []any {
	return []any{&Job{}}
}
