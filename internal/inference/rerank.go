package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const rerankConcurrency = 3

// Candidate is one item submitted for reranking. Type tags it as "memory" or
// "chunk" so the prompt can give the model minimal context.
type Candidate struct {
	ID      string
	Type    string
	Content string
}

// RankedID is one rerank result: the candidate ID and its replacement score.
type RankedID struct {
	ID         string
	FinalScore float64
}

// Rerank scores each candidate against the query using the rerank model and
// returns one RankedID per successfully scored candidate. Candidates whose
// scoring call fails are omitted; callers treat a short or empty result as a
// signal to keep their original ranking. Scoring runs concurrently, bounded
// to rerankConcurrency goroutines.
func (c *Client) Rerank(ctx context.Context, query string, candidates []Candidate) ([]RankedID, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Buffered channel prevents goroutines from blocking on send after we stop reading.
	results := make(chan RankedID, len(candidates))
	sem := make(chan struct{}, rerankConcurrency)

	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(cand Candidate) {
			defer wg.Done()
			// Acquire concurrency slot or bail on cancellation.
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := c.scoreCandidate(ctx, query, cand)
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("rerank: scoring failed, dropping candidate", "id", cand.ID, "error", err)
				}
				return
			}
			results <- RankedID{ID: cand.ID, FinalScore: score}
		}(cand)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var ranked []RankedID
	for r := range results {
		ranked = append(ranked, r)
	}

	if len(ranked) == 0 && ctx.Err() != nil {
		return nil, fmt.Errorf("reranking timed out: %w", ctx.Err())
	}
	return ranked, nil
}

func (c *Client) scoreCandidate(ctx context.Context, query string, cand Candidate) (float64, error) {
	prompt := "Rate the relevance of the following " + cand.Type + " to the query on a scale of 0.0 to 1.0.\n" +
		"Query: " + query + "\n" +
		"Text: " + cand.Content + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"score": {Type: "number", Description: "Relevance score 0.0–1.0"},
		},
		Required: []string{"score"},
	}

	resp, err := c.chat(ctx, c.models.Rerank, prompt, schema)
	if err != nil {
		return 0, err
	}
	return parseScore(resp)
}

// parseScore robustly extracts a relevance score float from a model response.
// Small local models frequently wrap JSON in markdown code fences or prepend
// conversational filler, so the parser strips fences and extracts the JSON
// object by brace position before unmarshaling.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	// Extract JSON object by brace position.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	return obj.Score, nil
}
