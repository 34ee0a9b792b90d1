package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
)

const (
	fetchTimeout    = 10 * time.Second
	maxWebFetchSize = 5 << 20 // 5MB
)

// webExtractor fetches a remote page and strips boilerplate down to the
// readable article text.
type webExtractor struct{}

func (e *webExtractor) Supports(contentType string) bool {
	return contentType == "url"
}

func (e *webExtractor) Extract(ctx context.Context, doc storage.Document, deps pipeline.Deps) (*pipeline.ExtractResult, error) {
	if doc.SourceURL == "" {
		return nil, pipeline.ExtractError("url document has no source url", nil)
	}

	pageURL, err := url.Parse(doc.SourceURL)
	if err != nil {
		return nil, pipeline.ExtractError("invalid source url", err)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.SourceURL, nil)
	if err != nil {
		return nil, pipeline.ExtractError("building fetch request", err)
	}

	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, pipeline.RetryableExtractError("fetching url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pipeline.RetryableExtractError(fmt.Sprintf("url returned status %d", resp.StatusCode), nil)
	}

	body := io.LimitReader(resp.Body, maxWebFetchSize)
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, pipeline.RetryableExtractError("stripping page boilerplate", err)
	}

	title := doc.Title
	if title == "" {
		title = article.Title
	}

	return &pipeline.ExtractResult{
		Content:     article.TextContent,
		ContentType: "text",
		Meta: pipeline.ExtractMeta{
			Title:  title,
			Author: strings.TrimSpace(article.Byline),
			Source: doc.SourceURL,
		},
	}, nil
}
