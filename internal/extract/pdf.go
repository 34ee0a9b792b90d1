package extract

import (
	"bytes"
	"context"
	"errors"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

// pdfExtractor pulls the document's binary payload from the blob store and
// extracts its plain text.
type pdfExtractor struct{}

func (e *pdfExtractor) Supports(contentType string) bool {
	return contentType == "pdf"
}

func (e *pdfExtractor) Extract(ctx context.Context, doc storage.Document, deps pipeline.Deps) (*pipeline.ExtractResult, error) {
	if doc.BlobKey == "" {
		return nil, pipeline.ExtractError("pdf document has no blob key", nil)
	}

	data, err := deps.Blobs.GetBlob(doc.BlobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, pipeline.ExtractError("pdf blob not found", err)
	}
	if err != nil {
		return nil, pipeline.RetryableExtractError("fetching pdf blob", err)
	}

	text, err := pdfToText(data)
	if err != nil {
		// A malformed PDF will not parse better on retry.
		return nil, pipeline.ExtractError("extracting pdf text", err)
	}

	title := doc.Title
	author := ""
	if r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data))); err == nil {
		if t := r.Trailer(); !t.IsNull() {
			info := t.Key("Info")
			if title == "" {
				title = pdfInfoString(info, "Title")
			}
			author = pdfInfoString(info, "Author")
		}
	}

	return &pipeline.ExtractResult{
		Content:     text,
		ContentType: "text",
		Meta: pipeline.ExtractMeta{
			Title:  title,
			Author: author,
			Source: doc.BlobKey,
		},
	}, nil
}

func pdfToText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func pdfInfoString(info pdf.Value, key string) string {
	if info.IsNull() {
		return ""
	}
	v := info.Key(key)
	if v.Kind() != pdf.String {
		return ""
	}
	return v.RawString()
}
