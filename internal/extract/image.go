package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

// imageExtractor fetches the image blob and asks the vision model to describe
// it. When the model produces nothing usable, a generated placeholder
// description stands in so the document remains findable by its metadata.
type imageExtractor struct{}

func (e *imageExtractor) Supports(contentType string) bool {
	return contentType == "image"
}

func (e *imageExtractor) Extract(ctx context.Context, doc storage.Document, deps pipeline.Deps) (*pipeline.ExtractResult, error) {
	if doc.BlobKey == "" {
		return nil, pipeline.ExtractError("image document has no blob key", nil)
	}

	data, err := deps.Blobs.GetBlob(doc.BlobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, pipeline.ExtractError("image blob not found", err)
	}
	if err != nil {
		return nil, pipeline.RetryableExtractError("fetching image blob", err)
	}

	caption, err := deps.Captioner.Caption(ctx, data)
	if err != nil {
		return nil, pipeline.RetryableExtractError("captioning image", err)
	}
	if caption == "" {
		caption = fallbackDescription(doc, len(data))
	}

	return &pipeline.ExtractResult{
		Content:     caption,
		ContentType: "text",
		Meta: pipeline.ExtractMeta{
			Title:  doc.Title,
			Source: doc.BlobKey,
		},
	}, nil
}

func fallbackDescription(doc storage.Document, size int) string {
	title := doc.Title
	if title == "" {
		title = "untitled"
	}
	mime := doc.MimeType
	if mime == "" {
		mime = "image"
	}
	return fmt.Sprintf("Image %q (%s, %d bytes). No text could be recognized in this image.", title, mime, size)
}
