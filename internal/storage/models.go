package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is a source row for ingestion. Content holds inline text for
// text/markdown/html documents; binary payloads (pdf, image) live in the
// blob store under BlobKey.
type Document struct {
	ID           string
	UserID       string
	ContainerTag string
	Type         string // "text", "markdown", "html", "url", "pdf", "image"
	Title        string
	Content      string
	SourceURL    string
	BlobKey      string
	MimeType     string
	CreatedAt    time.Time
}

// Memory is a short free-standing memory item, indexed directly without
// going through the document pipeline.
type Memory struct {
	ID           string
	UserID       string
	ContainerTag string
	Content      string
	CreatedAt    time.Time
}

// Chunk is one embedded segment of a processed document.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	Position   int
	TokenCount int
	CreatedAt  time.Time
}

// Job is the persisted form of a processing job. QueueStatus drives the
// claim/retry queue ("pending", "running", "completed", "failed") while
// Status mirrors the pipeline state machine ("queued" through "done").
// Step history and metrics are stored as JSON alongside the row.
type Job struct {
	ID           string
	DocumentID   string
	UserID       string
	ContainerTag string
	QueueStatus  string
	Status       string
	Attempts     int
	MaxAttempts  int
	RunAfter     time.Time
	LastError    string
	StepsJSON    string
	MetricsJSON  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileFact is one profile statement about a user. Kind is "static"
// (durable identity facts) or "dynamic" (recent observations).
type ProfileFact struct {
	ID        string
	UserID    string
	Kind      string
	Fact      string
	CreatedAt time.Time
}

// SearchHit is one keyword search result row. Rows come back in relevance
// order; rank-based scoring is left to the caller.
type SearchHit struct {
	ID         string
	DocumentID string // empty for memory hits
	Content    string
	CreatedAt  time.Time
}
