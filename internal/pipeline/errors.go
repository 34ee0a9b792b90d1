package pipeline

import (
	"errors"
	"fmt"
)

// Error is a stage-tagged processing failure. Retryable distinguishes
// transient infrastructure conditions (timeouts, malformed responses), which
// the driver may requeue within the retry budget, from conditions with no
// recovery path absent new input (missing rows, empty content), which
// terminate the job.
type Error struct {
	Stage     Status
	Message   string
	Retryable bool
	Meta      map[string]string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExtractError reports an extraction failure. Non-retryable by default:
// a missing source row or empty content will not fix itself.
func ExtractError(msg string, err error) *Error {
	return &Error{Stage: StatusExtracting, Message: msg, Err: err}
}

// RetryableExtractError reports a transient extraction failure, such as a
// failed fetch from a remote source.
func RetryableExtractError(msg string, err error) *Error {
	return &Error{Stage: StatusExtracting, Message: msg, Err: err, Retryable: true}
}

// ChunkError reports a chunking failure. Chunking is deterministic and local,
// so its failures are non-retryable.
func ChunkError(msg string, err error) *Error {
	return &Error{Stage: StatusChunking, Message: msg, Err: err}
}

// EmbedError reports an embedding failure. Retryable by default: embedding
// failures are almost always provider hiccups.
func EmbedError(msg string, err error) *Error {
	return &Error{Stage: StatusEmbedding, Message: msg, Err: err, Retryable: true}
}

// NonRetryableEmbedError reports an embedding failure with no recovery path,
// such as a missing upstream chunker result.
func NonRetryableEmbedError(msg string, err error) *Error {
	return &Error{Stage: StatusEmbedding, Message: msg, Err: err}
}

// IndexError reports an index write failure. Retryable by default.
func IndexError(msg string, err error) *Error {
	return &Error{Stage: StatusIndexing, Message: msg, Err: err, Retryable: true}
}

// IsRetryable reports whether err is (or wraps) a retryable pipeline Error.
// Unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
