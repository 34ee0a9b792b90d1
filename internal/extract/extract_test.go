package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

type mockRows struct {
	docs map[string]storage.Document
	err  error
}

func (m *mockRows) GetDocument(id string) (storage.Document, error) {
	if m.err != nil {
		return storage.Document{}, m.err
	}
	doc, ok := m.docs[id]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

type mockBlobs struct {
	blobs map[string][]byte
}

func (m *mockBlobs) GetBlob(key string) ([]byte, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

type mockCaptioner struct {
	caption string
	err     error
}

func (m *mockCaptioner) Caption(_ context.Context, _ []byte) (string, error) {
	return m.caption, m.err
}

func testContext(t *testing.T, doc storage.Document) *pipeline.Context {
	t.Helper()
	return &pipeline.Context{
		Job: &pipeline.Job{ID: "job-1", DocumentID: doc.ID},
		Deps: pipeline.Deps{
			Rows:  &mockRows{docs: map[string]storage.Document{doc.ID: doc}},
			Blobs: &mockBlobs{},
		},
	}
}

func TestRun_InlineText(t *testing.T) {
	doc := storage.Document{
		ID:      "doc-1",
		Type:    "text",
		Title:   "Notes",
		Content: "First line.\r\nSecond line.\r\n\r\n\r\n\r\nThird line.   ",
	}
	pc := testContext(t, doc)

	if err := NewStage().Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Extract == nil {
		t.Fatal("no extract result")
	}
	want := "First line.\nSecond line.\n\nThird line."
	if pc.Extract.Content != want {
		t.Errorf("content = %q, want %q", pc.Extract.Content, want)
	}
	if pc.Extract.Meta.Title != "Notes" {
		t.Errorf("title = %q", pc.Extract.Meta.Title)
	}
	if pc.Extract.Meta.WordCount != 6 {
		t.Errorf("word count = %d, want 6", pc.Extract.Meta.WordCount)
	}
	if pc.Job.Metrics.WordCount != 6 || pc.Job.Metrics.TokenCount != pipeline.EstimateTokens(want) {
		t.Errorf("job metrics not populated: %+v", pc.Job.Metrics)
	}
}

func TestRun_MimeTypeFallbackDispatch(t *testing.T) {
	doc := storage.Document{
		ID:       "doc-1",
		Type:     "upload",
		MimeType: "text/markdown; charset=utf-8",
		Content:  "# Heading\n\nBody text here.",
	}
	pc := testContext(t, doc)

	if err := NewStage().Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Extract.ContentType != "markdown" {
		t.Errorf("content type = %q, want markdown", pc.Extract.ContentType)
	}
}

func TestRun_MissingDocumentIsNotRetryable(t *testing.T) {
	pc := &pipeline.Context{
		Job:  &pipeline.Job{ID: "job-1", DocumentID: "ghost"},
		Deps: pipeline.Deps{Rows: &mockRows{}},
	}
	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.IsRetryable(err) {
		t.Error("missing document must not be retryable")
	}
}

func TestRun_StoreFailureIsRetryable(t *testing.T) {
	pc := &pipeline.Context{
		Job:  &pipeline.Job{ID: "job-1", DocumentID: "doc-1"},
		Deps: pipeline.Deps{Rows: &mockRows{err: errors.New("database is locked")}},
	}
	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if !pipeline.IsRetryable(err) {
		t.Error("store failure should be retryable")
	}
}

func TestRun_EmptyContentIsNotRetryable(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "text", Content: "   \n\n   "}
	pc := testContext(t, doc)

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.IsRetryable(err) {
		t.Error("empty content must not be retryable")
	}
}

func TestRun_UnsupportedTypeIsNotRetryable(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "spreadsheet", Content: "a,b,c"}
	pc := testContext(t, doc)

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.IsRetryable(err) {
		t.Error("unsupported type must not be retryable")
	}
	if !strings.Contains(err.Error(), "unsupported content type") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_WebFetch(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Release Notes</title></head>
<body>
<article>
<h1>Release Notes</h1>
<p>The storage layer gained write-ahead logging. Recovery after a crash now
replays the log instead of rebuilding the index from scratch, which makes a
restart after an unclean shutdown take seconds rather than minutes.</p>
<p>The search endpoint accepts a mode parameter. Vector, keyword, and hybrid
modes are supported, and hybrid remains the default for all existing clients.</p>
</article>
</body>
</html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	doc := storage.Document{ID: "doc-1", Type: "url", SourceURL: srv.URL}
	pc := testContext(t, doc)
	pc.Deps.HTTPClient = srv.Client()

	if err := NewStage().Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(pc.Extract.Content, "write-ahead logging") {
		t.Errorf("article text missing from content: %q", pc.Extract.Content)
	}
	if strings.Contains(pc.Extract.Content, "<p>") {
		t.Error("markup leaked into extracted content")
	}
	if pc.Extract.Meta.Title == "" {
		t.Error("page title not captured")
	}
	if pc.Extract.Meta.Source != srv.URL {
		t.Errorf("source = %q, want %q", pc.Extract.Meta.Source, srv.URL)
	}
}

func TestRun_WebFetchServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	doc := storage.Document{ID: "doc-1", Type: "url", SourceURL: srv.URL}
	pc := testContext(t, doc)
	pc.Deps.HTTPClient = srv.Client()

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if !pipeline.IsRetryable(err) {
		t.Error("5xx fetch should be retryable")
	}
}

func TestRun_WebMissingURLIsNotRetryable(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "url"}
	pc := testContext(t, doc)

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.IsRetryable(err) {
		t.Error("missing url must not be retryable")
	}
}

func TestRun_PDFMissingBlobIsNotRetryable(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "pdf", BlobKey: "doc-1"}
	pc := testContext(t, doc)

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.IsRetryable(err) {
		t.Error("missing blob must not be retryable")
	}
}

func TestRun_MalformedPDFIsNotRetryable(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "pdf", BlobKey: "doc-1"}
	pc := testContext(t, doc)
	pc.Deps.Blobs = &mockBlobs{blobs: map[string][]byte{
		"doc-1": []byte("this is not a pdf"),
	}}

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.IsRetryable(err) {
		t.Error("malformed pdf must not be retryable")
	}
}

func TestRun_ImageCaption(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "image", Title: "Whiteboard", BlobKey: "doc-1"}
	pc := testContext(t, doc)
	pc.Deps.Blobs = &mockBlobs{blobs: map[string][]byte{"doc-1": {0x89, 0x50, 0x4e, 0x47}}}
	pc.Deps.Captioner = &mockCaptioner{caption: "A whiteboard with an architecture diagram."}

	if err := NewStage().Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.Extract.Content != "A whiteboard with an architecture diagram." {
		t.Errorf("content = %q", pc.Extract.Content)
	}
}

func TestRun_ImageCaptionEmptyFallsBack(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "image", Title: "Whiteboard", MimeType: "image/png", BlobKey: "doc-1"}
	pc := testContext(t, doc)
	pc.Deps.Blobs = &mockBlobs{blobs: map[string][]byte{"doc-1": {0x89, 0x50, 0x4e, 0x47}}}
	pc.Deps.Captioner = &mockCaptioner{caption: ""}

	if err := NewStage().Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(pc.Extract.Content, "Whiteboard") || !strings.Contains(pc.Extract.Content, "image/png") {
		t.Errorf("fallback description = %q", pc.Extract.Content)
	}
}

func TestRun_ImageCaptionFailureIsRetryable(t *testing.T) {
	doc := storage.Document{ID: "doc-1", Type: "image", BlobKey: "doc-1"}
	pc := testContext(t, doc)
	pc.Deps.Blobs = &mockBlobs{blobs: map[string][]byte{"doc-1": {0x01}}}
	pc.Deps.Captioner = &mockCaptioner{err: errors.New("model not loaded")}

	err := NewStage().Run(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error")
	}
	if !pipeline.IsRetryable(err) {
		t.Error("caption failure should be retryable")
	}
}

func TestNormalizeContentType(t *testing.T) {
	cases := []struct {
		docType string
		mime    string
		want    string
	}{
		{"text", "", "text"},
		{"  Markdown ", "", "markdown"},
		{"upload", "application/pdf", "pdf"},
		{"upload", "image/jpeg", "image"},
		{"upload", "text/plain; charset=utf-8", "text"},
		{"upload", "application/zip", "upload"},
	}
	for _, c := range cases {
		doc := storage.Document{Type: c.docType, MimeType: c.mime}
		if got := normalizeContentType(doc); got != c.want {
			t.Errorf("normalizeContentType(%q, %q) = %q, want %q", c.docType, c.mime, got, c.want)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	in := "a  \r\nb\t\r\n\n\n\nc\n"
	want := "a\nb\n\nc"
	if got := NormalizeText(in); got != want {
		t.Errorf("NormalizeText = %q, want %q", got, want)
	}
}
