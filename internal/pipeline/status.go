package pipeline

// Status is the processing state of a job. The happy path is linear:
// queued → extracting → chunking → embedding → indexing → temporal_extraction
// → entity_extraction → importance_scoring → commitment_extraction → done.
// "failed" is reachable from any non-terminal state. The four cognitive
// states after indexing belong to downstream consumers of the embedded
// chunks; no stage in this module implements them.
type Status string

const (
	StatusQueued               Status = "queued"
	StatusExtracting           Status = "extracting"
	StatusChunking             Status = "chunking"
	StatusEmbedding            Status = "embedding"
	StatusIndexing             Status = "indexing"
	StatusTemporalExtraction   Status = "temporal_extraction"
	StatusEntityExtraction     Status = "entity_extraction"
	StatusImportanceScoring    Status = "importance_scoring"
	StatusCommitmentExtraction Status = "commitment_extraction"
	StatusDone                 Status = "done"
	StatusFailed               Status = "failed"
)

// Terminal reports whether the status is one of the two end states.
// A job reaches a terminal state exactly once.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}
