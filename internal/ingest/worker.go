package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/recall/internal/chunk"
	"github.com/kalambet/recall/internal/embed"
	"github.com/kalambet/recall/internal/extract"
	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

// JobStore abstracts the job queue and document row operations.
type JobStore interface {
	ClaimNextJob() (*storage.Job, error)
	CompleteJob(id string) error
	RetryJob(id string, errMsg string) (bool, error)
	FailJob(id string, errMsg string) error
	UpdateJobProgress(id, status, stepsJSON, metricsJSON string) error
	GetDocument(id string) (storage.Document, error)
	GetBlob(key string) ([]byte, error)
	SaveChunks(chunks []storage.Chunk) error
	DeleteChunksByDocument(documentID string) ([]string, error)
}

// Inference generates embeddings and image captions.
type Inference interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Caption(ctx context.Context, image []byte) (string, error)
}

// Options configures a Worker. Zero values fall back to sane defaults.
type Options struct {
	Poll       time.Duration
	Chunking   chunk.Config
	Embedding  embed.Config
	HTTPClient *http.Client
}

// Worker processes ingestion jobs from the SQLite job queue, driving each
// claimed job through the extract, chunk, embed and index stages.
type Worker struct {
	store     JobStore
	inference Inference
	stages    []pipeline.Stage
	deps      pipeline.Deps
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If opts.Poll is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, inference Inference, vectors VectorIndex, opts Options) *Worker {
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		inference: inference,
		stages: []pipeline.Stage{
			extract.NewStage(),
			chunk.NewStage(opts.Chunking),
			embed.NewStage(opts.Embedding),
			newIndexStage(store, vectors),
		},
		deps: pipeline.Deps{
			Rows:       store,
			Blobs:      store,
			Embedder:   inference,
			Captioner:  inference,
			HTTPClient: opts.HTTPClient,
		},
		poll:   opts.Poll,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.settleFailure(job, err)
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	pj := &pipeline.Job{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		UserID:       job.UserID,
		ContainerTag: job.ContainerTag,
		Status:       pipeline.Status(job.Status),
		RetryCount:   job.Attempts,
		MaxRetries:   job.MaxAttempts,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if err := pj.UnmarshalProgress(job.StepsJSON, job.MetricsJSON); err != nil {
		return fmt.Errorf("restoring job progress: %w", err)
	}
	pj.Metrics.RetryCount = job.Attempts

	pc := &pipeline.Context{
		Job:  pj,
		Deps: w.deps,
	}

	runner := pipeline.NewRunner(w.stages, w.persistJob)
	return runner.Run(ctx, pc)
}

// settleFailure decides between requeue and terminal failure after a job
// error. Retryable errors requeue with backoff until the attempt budget runs
// out; everything else fails the job immediately.
func (w *Worker) settleFailure(job *storage.Job, jobErr error) {
	if pipeline.IsRetryable(jobErr) {
		requeued, err := w.store.RetryJob(job.ID, jobErr.Error())
		if err != nil {
			w.logger.Error("failed to retry job", "job_id", job.ID, "error", err)
			return
		}
		if requeued {
			w.logger.Warn("job requeued", "job_id", job.ID, "attempt", job.Attempts+1, "error", jobErr)
		} else {
			w.logger.Warn("job failed after exhausting retries", "job_id", job.ID, "error", jobErr)
		}
		return
	}

	w.logger.Warn("job failed", "job_id", job.ID, "error", jobErr)
	if err := w.store.FailJob(job.ID, jobErr.Error()); err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) persistJob(j *pipeline.Job) {
	steps, err := j.MarshalSteps()
	if err != nil {
		w.logger.Error("failed to serialize job steps", "job_id", j.ID, "error", err)
		return
	}
	metrics, err := j.MarshalMetrics()
	if err != nil {
		w.logger.Error("failed to serialize job metrics", "job_id", j.ID, "error", err)
		return
	}
	if err := w.store.UpdateJobProgress(j.ID, string(j.Status), steps, metrics); err != nil {
		w.logger.Error("failed to checkpoint job", "job_id", j.ID, "status", j.Status, "error", err)
	}
}
