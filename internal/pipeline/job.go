package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is the per-ingestion unit of state. It is created once in status
// "queued", mutated only by the stage currently executing against it, and
// owns its step history and metrics for its entire lifetime.
type Job struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	UserID       string    `json:"user_id"`
	ContainerTag string    `json:"container_tag"`
	Status       Status    `json:"status"`
	Steps        []Step    `json:"steps"`
	Metrics      Metrics   `json:"metrics"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Step is one audit-trail entry. A failed step carries the error message and
// whether the failure is retryable.
type Step struct {
	Name        string            `json:"name"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	DurationMS  int64             `json:"duration_ms"`
	Error       string            `json:"error,omitempty"`
	Retryable   bool              `json:"retryable,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Metrics aggregates per-job processing cost.
type Metrics struct {
	WordCount        int              `json:"word_count"`
	TokenCount       int              `json:"token_count"`
	TotalChunks      int              `json:"total_chunks"`
	AverageChunkSize float64          `json:"average_chunk_size"`
	StageDurationsMS map[string]int64 `json:"stage_durations_ms,omitempty"`
	APICallCount     int              `json:"api_call_count"`
	TotalTokensUsed  int              `json:"total_tokens_used"`
	RetryCount       int              `json:"retry_count"`
}

// RecordStageDuration stores the wall-clock duration of a named stage.
func (m *Metrics) RecordStageDuration(stage string, d time.Duration) {
	if m.StageDurationsMS == nil {
		m.StageDurationsMS = make(map[string]int64)
	}
	m.StageDurationsMS[stage] = d.Milliseconds()
}

// MarshalSteps serializes the step history for persistence.
func (j *Job) MarshalSteps() (string, error) {
	b, err := json.Marshal(j.Steps)
	if err != nil {
		return "", fmt.Errorf("marshaling steps: %w", err)
	}
	return string(b), nil
}

// MarshalMetrics serializes the metrics for persistence.
func (j *Job) MarshalMetrics() (string, error) {
	b, err := json.Marshal(j.Metrics)
	if err != nil {
		return "", fmt.Errorf("marshaling metrics: %w", err)
	}
	return string(b), nil
}

// UnmarshalProgress restores step history and metrics from their persisted
// JSON forms. Empty strings are treated as empty history.
func (j *Job) UnmarshalProgress(stepsJSON, metricsJSON string) error {
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &j.Steps); err != nil {
			return fmt.Errorf("unmarshaling steps: %w", err)
		}
	}
	if metricsJSON != "" {
		if err := json.Unmarshal([]byte(metricsJSON), &j.Metrics); err != nil {
			return fmt.Errorf("unmarshaling metrics: %w", err)
		}
	}
	return nil
}
