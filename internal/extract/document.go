package extract

import (
	"context"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

// documentExtractor handles inline text, markdown, and simple HTML rows:
// the content is already in the document row and needs no fetching.
type documentExtractor struct{}

func (e *documentExtractor) Supports(contentType string) bool {
	switch contentType {
	case "text", "markdown", "html":
		return true
	}
	return false
}

func (e *documentExtractor) Extract(_ context.Context, doc storage.Document, _ pipeline.Deps) (*pipeline.ExtractResult, error) {
	if doc.Content == "" {
		return nil, pipeline.ExtractError("document row has no content", nil)
	}

	contentType := normalizeContentType(doc)
	return &pipeline.ExtractResult{
		Content:     doc.Content,
		ContentType: contentType,
		Meta: pipeline.ExtractMeta{
			Title:  doc.Title,
			Source: doc.ID,
		},
	}, nil
}
