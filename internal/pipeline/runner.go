package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Stage is one pipeline step. Name doubles as the status the job carries
// while the stage runs.
type Stage interface {
	Name() Status
	Run(ctx context.Context, pc *Context) error
}

// Runner drives a job through an ordered list of stages, recording a step
// entry with timing for every transition. Stages within one job run strictly
// sequentially; distinct jobs may run concurrently on separate Contexts.
type Runner struct {
	stages  []Stage
	persist func(job *Job)
	logger  *slog.Logger
}

// NewRunner creates a Runner over the given stages. persist, if non-nil, is
// called after every status transition so the driver can checkpoint job
// state; persistence failures must be handled (or logged) by the callback
// itself.
func NewRunner(stages []Stage, persist func(job *Job)) *Runner {
	return &Runner{
		stages:  stages,
		persist: persist,
		logger:  slog.Default(),
	}
}

// Run executes all stages in order. On success the job ends in status "done".
// On stage failure the step history records the error and its retryability
// before the error propagates; the job's status is left at the failing stage
// so the driver can decide between requeue and terminal failure.
func (r *Runner) Run(ctx context.Context, pc *Context) error {
	job := pc.Job

	for _, stage := range r.stages {
		job.Status = stage.Name()
		job.UpdatedAt = time.Now().UTC()
		r.checkpoint(job)

		step := Step{
			Name:      string(stage.Name()),
			StartedAt: time.Now().UTC(),
		}

		err := stage.Run(ctx, pc)

		step.CompletedAt = time.Now().UTC()
		step.DurationMS = step.CompletedAt.Sub(step.StartedAt).Milliseconds()
		job.Metrics.RecordStageDuration(step.Name, step.CompletedAt.Sub(step.StartedAt))

		if err != nil {
			step.Error = err.Error()
			step.Retryable = IsRetryable(err)
			job.Steps = append(job.Steps, step)
			job.LastError = err.Error()
			job.UpdatedAt = time.Now().UTC()
			r.checkpoint(job)

			r.logger.Warn("pipeline stage failed",
				"job_id", job.ID,
				"stage", stage.Name(),
				"retryable", step.Retryable,
				"error", err,
			)
			return err
		}

		job.Steps = append(job.Steps, step)
		r.logger.Debug("pipeline stage complete",
			"job_id", job.ID,
			"stage", stage.Name(),
			"duration_ms", step.DurationMS,
		)
	}

	job.Status = StatusDone
	job.UpdatedAt = time.Now().UTC()
	r.checkpoint(job)
	return nil
}

func (r *Runner) checkpoint(job *Job) {
	if r.persist != nil {
		r.persist(job)
	}
}
