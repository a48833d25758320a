package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"parcelqr/pkg/config"
	"parcelqr/pkg/db/option"
	"parcelqr/pkg/db/pagination"
	"parcelqr/pkg/repository"
	"parcelqr/pkg/task"
	"parcelqr/pkg/taskname"
	"parcelqr/services/qrtoken"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type sweepPayload struct {
	JobID string `json:"job_id"`
}

type Service struct {
	node     *snowflake.Node
	store    *qrtoken.Store
	jobs     repository.Repository[Job]
	enqueuer task.Enqueuer
	grace    time.Duration
	now      func() time.Time
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Store  *qrtoken.Store
	Config *config.Config

	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		node:     p.Node,
		store:    p.Store,
		jobs:     repository.ProvideStore[Job](p.DB),
		enqueuer: p.Enqueuer,
		grace:    p.Config.QR.SweepGrace,
		now:      time.Now,
	}
}

func (s *Service) metadata(trigger string) datatypes.JSON {
	raw, _ := json.Marshal(map[string]string{
		"trigger": trigger,
		"grace":   s.grace.String(),
	})
	return datatypes.JSON(raw)
}

// EnqueueSweep records a pending job and hands it to the worker queue. With
// no queue configured the sweep runs inline.
func (s *Service) EnqueueSweep(ctx context.Context, trigger string) (*Job, error) {
	if s.enqueuer == nil {
		zap.L().Debug("no task queue configured, sweeping inline")
		return s.runJob(ctx, nil, trigger)
	}

	job := &Job{
		ID:       s.node.Generate().String(),
		Task:     taskname.QRTokenSweep,
		Status:   JobPending,
		Metadata: s.metadata(trigger),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create sweep job: %w", err)
	}

	payload, _ := json.Marshal(sweepPayload{JobID: job.ID})
	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.QRTokenSweep, payload), asynq.Queue(taskname.QueueLow))
	if err != nil {
		s.finish(ctx, job, 0, err)
		return nil, err
	}

	queue := taskname.QueueLow
	if info != nil {
		queue = info.Queue
	}
	zap.L().Info("enqueued qr token sweep",
		zap.String("job_id", job.ID),
		zap.String("queue", queue),
		zap.String("trigger", trigger),
	)
	return job, nil
}

// HandleSweepTask is the asynq handler for taskname.QRTokenSweep.
func (s *Service) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	var payload sweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid sweep payload", zap.Error(err))
		return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	var job *Job
	if payload.JobID != "" {
		found, err := s.jobs.FindOne(ctx, &Job{ID: payload.JobID})
		if err != nil {
			return fmt.Errorf("load sweep job: %w", err)
		}
		job = found
	}

	_, err := s.runJob(ctx, job, TriggerScheduler)
	return err
}

// RunSweep sweeps immediately and returns the finished job record.
func (s *Service) RunSweep(ctx context.Context) (*Job, error) {
	return s.runJob(ctx, nil, TriggerManual)
}

func (s *Service) runJob(ctx context.Context, job *Job, trigger string) (*Job, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.grace)

	if job == nil {
		job = &Job{
			ID:       s.node.Generate().String(),
			Task:     taskname.QRTokenSweep,
			Status:   JobRunning,
			Cutoff:   &cutoff,
			Metadata: s.metadata(trigger),
		}
		job.StartedAt = &now
		if err := s.jobs.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("create sweep job: %w", err)
		}
	} else {
		job.Status = JobRunning
		job.Cutoff = &cutoff
		job.StartedAt = &now
		if err := s.jobs.Update(ctx, job.ID, map[string]any{
			"status":     JobRunning,
			"cutoff":     cutoff,
			"started_at": now,
		}); err != nil {
			return nil, fmt.Errorf("start sweep job: %w", err)
		}
	}

	deleted, err := s.store.SweepExpired(ctx, cutoff)
	s.finish(ctx, job, deleted, err)
	if err != nil {
		zap.L().Error("qr token sweep job failed", zap.String("job_id", job.ID), zap.Error(err))
		return job, err
	}

	zap.L().Info("qr token sweep job finished",
		zap.String("job_id", job.ID),
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return job, nil
}

func (s *Service) finish(ctx context.Context, job *Job, deleted int64, runErr error) {
	completed := s.now().UTC()
	updates := map[string]any{
		"status":       JobSuccess,
		"deleted":      deleted,
		"completed_at": completed,
	}
	job.Status = JobSuccess
	if runErr != nil {
		updates["status"] = JobFailed
		updates["error_msg"] = runErr.Error()
		job.Status = JobFailed
		job.ErrorMsg = runErr.Error()
	}
	job.Deleted = deleted
	job.CompletedAt = &completed

	if err := s.jobs.Update(ctx, job.ID, updates); err != nil {
		zap.L().Error("failed to update sweep job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ListJobs returns sweep history, newest first.
func (s *Service) ListJobs(ctx context.Context, page pagination.Pagination) ([]*Job, *pagination.PageInfo, error) {
	jobs, err := s.jobs.Find(ctx, &Job{Task: taskname.QRTokenSweep}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, fmt.Errorf("list sweep jobs: %w", err)
	}

	jobs, info := pagination.Trim(jobs, page.Limit, func(j *Job) string { return j.ID })
	return jobs, info, nil
}
