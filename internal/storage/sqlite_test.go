package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	doc := Document{
		ID:           "doc-1",
		UserID:       "user-1",
		ContainerTag: "work",
		Type:         "text",
		Title:        "Notes",
		Content:      "some content",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "Notes" || got.Content != "some content" || got.UserID != "user-1" {
		t.Errorf("GetDocument = %+v", got)
	}

	if _, err := s.GetDocument("missing"); err != ErrNotFound {
		t.Errorf("GetDocument(missing) = %v, want ErrNotFound", err)
	}

	docs, err := s.ListDocuments(10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("ListDocuments returned %d docs, want 1", len(docs))
	}

	if err := s.DeleteDocument("doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument("doc-1"); err != ErrNotFound {
		t.Errorf("document still present after delete: %v", err)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	s := openTestStore(t)

	data := []byte{0x25, 0x50, 0x44, 0x46}
	if err := s.PutBlob("blob-1", data); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	got, err := s.GetBlob("blob-1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("GetBlob = %v, want %v", got, data)
	}
	if _, err := s.GetBlob("missing"); err != ErrNotFound {
		t.Errorf("GetBlob(missing) = %v, want ErrNotFound", err)
	}
}

func TestChunksLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDocument(Document{ID: "doc-1", Type: "text", Content: "x", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	chunks := []Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "first chunk", Position: 0, TokenCount: 3},
		{ID: "c2", DocumentID: "doc-1", Content: "second chunk", Position: 1, TokenCount: 3},
	}
	if err := s.SaveChunks(chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	got, err := s.GetChunk("c2")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got.Content != "second chunk" || got.Position != 1 {
		t.Errorf("GetChunk = %+v", got)
	}

	ids, err := s.DeleteChunksByDocument("doc-1")
	if err != nil {
		t.Fatalf("DeleteChunksByDocument: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("deleted %d chunk ids, want 2", len(ids))
	}
	if _, err := s.GetChunk("c1"); err != ErrNotFound {
		t.Errorf("chunk survived document cleanup: %v", err)
	}
}

func enqueueTestJob(t *testing.T, s *Store, id string) {
	t.Helper()
	job := Job{ID: id, DocumentID: "doc-" + id, UserID: "user-1"}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func resetRunAfter(t *testing.T, s *Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestJobQueue_ClaimAndComplete(t *testing.T) {
	s := openTestStore(t)
	enqueueTestJob(t, s, "job-1")

	job, err := s.ClaimNextJob()
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("ClaimNextJob returned nil, want job")
	}
	if job.QueueStatus != "running" {
		t.Errorf("QueueStatus = %q, want running", job.QueueStatus)
	}
	if job.Status != "queued" {
		t.Errorf("Status = %q, want queued", job.Status)
	}

	// A claimed job is invisible to other claimers.
	second, err := s.ClaimNextJob()
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if second != nil {
		t.Fatalf("claimed the same job twice: %+v", second)
	}

	if err := s.CompleteJob(job.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, err := s.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.QueueStatus != "completed" || got.Status != "done" {
		t.Errorf("after complete: queue=%q status=%q", got.QueueStatus, got.Status)
	}
}

func TestJobQueue_RetryWithBackoff(t *testing.T) {
	s := openTestStore(t)
	enqueueTestJob(t, s, "job-r")

	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	requeued, err := s.RetryJob("job-r", "transient failure")
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if !requeued {
		t.Fatal("RetryJob = false, want requeue on first failure")
	}

	got, err := s.GetJob("job-r")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.LastError != "transient failure" {
		t.Errorf("LastError = %q", got.LastError)
	}
	// Backoff pushes run_after into the future, so the job is not yet claimable.
	if job, _ := s.ClaimNextJob(); job != nil {
		t.Fatalf("claimed job still in backoff: %+v", job)
	}

	resetRunAfter(t, s, "job-r")
	job, err := s.ClaimNextJob()
	if err != nil {
		t.Fatalf("ClaimNextJob after backoff reset: %v", err)
	}
	if job == nil || job.ID != "job-r" {
		t.Fatalf("expected job-r to be claimable again, got %+v", job)
	}
}

func TestJobQueue_RetryBudgetExhaustion(t *testing.T) {
	s := openTestStore(t)
	enqueueTestJob(t, s, "job-x")

	for i := 1; i <= 3; i++ {
		resetRunAfter(t, s, "job-x")
		if _, err := s.ClaimNextJob(); err != nil {
			t.Fatalf("ClaimNextJob %d: %v", i, err)
		}
		requeued, err := s.RetryJob("job-x", fmt.Sprintf("failure %d", i))
		if err != nil {
			t.Fatalf("RetryJob %d: %v", i, err)
		}
		if i < 3 && !requeued {
			t.Fatalf("attempt %d not requeued, budget should allow it", i)
		}
		if i == 3 && requeued {
			t.Fatal("attempt 3 requeued, budget should be exhausted")
		}
	}

	got, err := s.GetJob("job-x")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.QueueStatus != "failed" || got.Status != "failed" {
		t.Errorf("after exhaustion: queue=%q status=%q, want failed/failed", got.QueueStatus, got.Status)
	}
}

func TestJobQueue_FailJobIsTerminal(t *testing.T) {
	s := openTestStore(t)
	enqueueTestJob(t, s, "job-f")

	if _, err := s.ClaimNextJob(); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("job-f", "unsupported content"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := s.GetJob("job-f")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.QueueStatus != "failed" || got.Status != "failed" {
		t.Errorf("queue=%q status=%q, want failed/failed", got.QueueStatus, got.Status)
	}
	if job, _ := s.ClaimNextJob(); job != nil {
		t.Fatalf("terminally failed job was claimed: %+v", job)
	}
}

func TestUpdateJobProgress(t *testing.T) {
	s := openTestStore(t)
	enqueueTestJob(t, s, "job-p")

	steps := `[{"name":"extracting","duration_ms":12}]`
	metrics := `{"word_count":42}`
	if err := s.UpdateJobProgress("job-p", "chunking", steps, metrics); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}

	got, err := s.GetJob("job-p")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "chunking" || got.StepsJSON != steps || got.MetricsJSON != metrics {
		t.Errorf("progress not persisted: %+v", got)
	}

	if err := s.UpdateJobProgress("nope", "done", "", ""); err != ErrNotFound {
		t.Errorf("UpdateJobProgress(missing) = %v, want ErrNotFound", err)
	}
}

func TestSearchMemories_FTS(t *testing.T) {
	s := openTestStore(t)

	mems := []Memory{
		{ID: "m1", UserID: "u1", Content: "the quarterly budget review", CreatedAt: time.Now().UTC()},
		{ID: "m2", UserID: "u1", Content: "vacation plans for summer", CreatedAt: time.Now().UTC()},
		{ID: "m3", UserID: "u2", Content: "budget approval from finance", CreatedAt: time.Now().UTC()},
	}
	for _, m := range mems {
		if err := s.SaveMemory(m); err != nil {
			t.Fatalf("SaveMemory %s: %v", m.ID, err)
		}
	}

	hits, err := s.SearchMemories("budget", "", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}

	// userID scopes results.
	hits, err = s.SearchMemories("budget", "u2", 10)
	if err != nil {
		t.Fatalf("SearchMemories scoped: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m3" {
		t.Errorf("scoped hits = %+v, want just m3", hits)
	}

	// Queries with no usable terms return nothing rather than erroring.
	hits, err = s.SearchMemories("!!! ...", "", 10)
	if err != nil {
		t.Fatalf("SearchMemories punctuation: %v", err)
	}
	if hits != nil {
		t.Errorf("punctuation-only query returned %+v", hits)
	}
}

func TestSearchChunks_FTS(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDocument(Document{ID: "doc-1", Type: "text", Content: "x", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	chunks := []Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "kubernetes deployment strategies", Position: 0},
		{ID: "c2", DocumentID: "doc-1", Content: "cooking recipes for autumn", Position: 1},
	}
	if err := s.SaveChunks(chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	hits, err := s.SearchChunks("kubernetes", 10)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "c1" {
		t.Fatalf("hits = %+v, want just c1", hits)
	}
	if hits[0].DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", hits[0].DocumentID)
	}

	// Deleting chunks drops them from the FTS index via triggers.
	if _, err := s.DeleteChunksByDocument("doc-1"); err != nil {
		t.Fatalf("DeleteChunksByDocument: %v", err)
	}
	hits, err = s.SearchChunks("kubernetes", 10)
	if err != nil {
		t.Fatalf("SearchChunks after delete: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("stale FTS hits after delete: %+v", hits)
	}
}

func TestProfileFacts(t *testing.T) {
	s := openTestStore(t)

	facts := []ProfileFact{
		{ID: "f1", UserID: "u1", Kind: "static", Fact: "works in fintech"},
		{ID: "f2", UserID: "u1", Kind: "dynamic", Fact: "researching sqlite"},
	}
	for _, f := range facts {
		if err := s.AddProfileFact(f); err != nil {
			t.Fatalf("AddProfileFact %s: %v", f.ID, err)
		}
	}

	if err := s.AddProfileFact(ProfileFact{ID: "f3", UserID: "u1", Kind: "bogus", Fact: "x"}); err == nil {
		t.Error("expected error for invalid fact kind")
	}

	static, err := s.ListProfileFacts("u1", "static")
	if err != nil {
		t.Fatalf("ListProfileFacts: %v", err)
	}
	if len(static) != 1 || static[0].Fact != "works in fintech" {
		t.Errorf("static facts = %+v", static)
	}

	if err := s.DeleteProfileFact("f1"); err != nil {
		t.Fatalf("DeleteProfileFact: %v", err)
	}
	if err := s.DeleteProfileFact("f1"); err != ErrNotFound {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestFtsQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hello world", `"hello" OR "world"`},
		{`"quoted" AND (stuff)`, `"quoted" OR "AND" OR "stuff"`},
		{"...", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := ftsQuery(c.in); got != c.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
