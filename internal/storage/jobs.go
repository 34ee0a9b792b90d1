package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// EnqueueJob inserts a new processing job in queue state "pending".
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	status := job.Status
	if status == "" {
		status = "queued"
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, document_id, user_id, container_tag, queue_status, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, 0, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, job.UserID, job.ContainerTag, status, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable pending job, marking it
// "running". Returns nil without error when no job is due.
func (s *Store) ClaimNextJob() (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `SELECT id, document_id, user_id, container_tag, queue_status, status, attempts, max_attempts, run_after, last_error, steps_json, metrics_json, created_at, updated_at
		FROM jobs
		WHERE queue_status = 'pending' AND run_after <= ?
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, now).Scan(
		&j.ID, &j.DocumentID, &j.UserID, &j.ContainerTag, &j.QueueStatus, &j.Status,
		&j.Attempts, &j.MaxAttempts, &runAfter, &lastError, &j.StepsJSON, &j.MetricsJSON,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET queue_status = 'running', updated_at = ? WHERE id = ? AND queue_status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.QueueStatus = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// UpdateJobProgress persists the pipeline status plus serialized step history
// and metrics for a job.
func (s *Store) UpdateJobProgress(id, status, stepsJSON, metricsJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, steps_json = ?, metrics_json = ?, updated_at = ?
		WHERE id = ?`, status, stepsJSON, metricsJSON, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob marks a job "completed"/"done".
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET queue_status = 'completed', status = 'done', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RetryJob increments the attempt counter and either requeues the job with
// exponential backoff or, when the retry budget is exhausted, marks it failed.
// Returns true when the job was requeued.
func (s *Store) RetryJob(id string, errMsg string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning retry transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	attempts++

	requeued := attempts < maxAttempts
	if requeued {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET queue_status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET queue_status = 'failed', status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	}
	if err != nil {
		return false, err
	}

	return requeued, tx.Commit()
}

// FailJob terminally fails a job regardless of remaining attempts. Used for
// non-retryable stage errors.
func (s *Store) FailJob(id string, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE jobs SET queue_status = 'failed', status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob returns a job row by ID.
func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRow(`
		SELECT id, document_id, user_id, container_tag, queue_status, status, attempts, max_attempts, run_after, last_error, steps_json, metrics_json, created_at, updated_at
		FROM jobs WHERE id = ?`, id,
	).Scan(
		&j.ID, &j.DocumentID, &j.UserID, &j.ContainerTag, &j.QueueStatus, &j.Status,
		&j.Attempts, &j.MaxAttempts, &runAfter, &lastError, &j.StepsJSON, &j.MetricsJSON,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after: %w", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}
