// Package extract implements the first pipeline stage: pulling raw content
// for a job from the document row or blob store, normalizing it, and emitting
// a uniform intermediate representation for the chunker.
package extract

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

// Extractor is one content-type-specific extraction variant.
type Extractor interface {
	// Supports reports whether this variant handles the normalized content type.
	Supports(contentType string) bool
	Extract(ctx context.Context, doc storage.Document, deps pipeline.Deps) (*pipeline.ExtractResult, error)
}

// Stage selects an extractor by content type and runs it. Selection is an
// explicit first-match lookup over the registered variants.
type Stage struct {
	extractors []Extractor
}

// NewStage creates the extraction stage with the default variant registry.
func NewStage() *Stage {
	return &Stage{
		extractors: []Extractor{
			&documentExtractor{},
			&webExtractor{},
			&pdfExtractor{},
			&imageExtractor{},
		},
	}
}

func (s *Stage) Name() pipeline.Status {
	return pipeline.StatusExtracting
}

// Run loads the source document, dispatches to the supporting variant, and
// normalizes the result. Word and token counts are written into the job's
// metrics as a side effect.
func (s *Stage) Run(ctx context.Context, pc *pipeline.Context) error {
	doc, err := pc.Deps.Rows.GetDocument(pc.Job.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		return pipeline.ExtractError("source document not found", err)
	}
	if err != nil {
		return pipeline.RetryableExtractError("loading source document", err)
	}

	contentType := normalizeContentType(doc)

	var result *pipeline.ExtractResult
	for _, ex := range s.extractors {
		if !ex.Supports(contentType) {
			continue
		}
		result, err = ex.Extract(ctx, doc, pc.Deps)
		if err != nil {
			return err
		}
		break
	}
	if result == nil {
		return pipeline.ExtractError("unsupported content type "+contentType, nil)
	}

	result.Content = NormalizeText(result.Content)
	if result.Content == "" {
		return pipeline.ExtractError("extracted content is empty", nil)
	}

	result.Meta.WordCount = pipeline.CountWords(result.Content)
	result.Meta.TokenCount = pipeline.EstimateTokens(result.Content)
	if result.Meta.Title == "" {
		result.Meta.Title = doc.Title
	}

	pc.Extract = result
	pc.Job.Metrics.WordCount = result.Meta.WordCount
	pc.Job.Metrics.TokenCount = result.Meta.TokenCount
	return nil
}

// normalizeContentType maps the document's declared type and MIME type onto
// the variant dispatch key.
func normalizeContentType(doc storage.Document) string {
	t := strings.ToLower(strings.TrimSpace(doc.Type))
	switch t {
	case "text", "markdown", "html", "url", "pdf", "image":
		return t
	}

	mime := strings.ToLower(doc.MimeType)
	switch {
	case strings.HasPrefix(mime, "text/markdown"):
		return "markdown"
	case strings.HasPrefix(mime, "text/html"):
		return "html"
	case strings.HasPrefix(mime, "application/pdf"):
		return "pdf"
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "text/"):
		return "text"
	}
	return t
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// NormalizeText normalizes line endings, strips trailing whitespace from each
// line, and collapses runs of blank lines.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
