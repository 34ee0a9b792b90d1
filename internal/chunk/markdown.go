package chunk

import (
	"regexp"
	"strings"

	"github.com/kalambet/recall/internal/pipeline"
)

var headingLine = regexp.MustCompile(`(?m)^#{1,6}\s`)

// chunkMarkdown splits content into heading-delimited sections. Sections that
// fit the budget accumulate like text units; oversized sections recurse into
// text chunking.
func (s *Stage) chunkMarkdown(content string) []string {
	sections := splitSections(content)

	var chunks []string
	var pending []unit
	flushPending := func() {
		if len(pending) > 0 {
			chunks = append(chunks, s.accumulate(pending)...)
			pending = nil
		}
	}

	for _, sec := range sections {
		if pipeline.EstimateTokens(sec) > s.cfg.MaxTokensPerChunk {
			flushPending()
			chunks = append(chunks, s.chunkText(sec)...)
			continue
		}
		pending = append(pending, unit{text: sec})
	}
	flushPending()
	return chunks
}

// splitSections breaks markdown at heading lines. Each section starts with
// its heading; any preamble before the first heading is its own section.
func splitSections(content string) []string {
	locs := headingLine.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []string{content}
	}

	var sections []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			if sec := strings.TrimSpace(content[prev:loc[0]]); sec != "" {
				sections = append(sections, sec)
			}
		}
		prev = loc[0]
	}
	if sec := strings.TrimSpace(content[prev:]); sec != "" {
		sections = append(sections, sec)
	}
	return sections
}
