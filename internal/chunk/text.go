package chunk

import (
	"regexp"
	"strings"

	"github.com/kalambet/recall/internal/pipeline"
)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// unit is one accumulation step: a whole paragraph, a markdown section, or —
// when a paragraph overflows the budget on its own — a single sentence.
type unit struct {
	text     string
	sentence bool
}

// chunkText splits content on blank-line paragraph boundaries, breaking
// oversized paragraphs into sentences, and accumulates units under the token
// budget. Each chunk after the first is seeded with the trailing overlap
// words of its predecessor to preserve cross-chunk context.
func (s *Stage) chunkText(content string) []string {
	var units []unit
	for _, para := range paragraphSplit.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if pipeline.EstimateTokens(para) > s.cfg.MaxTokensPerChunk {
			for _, sent := range splitSentences(para) {
				units = append(units, unit{text: sent, sentence: true})
			}
		} else {
			units = append(units, unit{text: para})
		}
	}
	return s.accumulate(units)
}

// accumulate packs units into chunks, closing the current chunk whenever
// adding the next unit would exceed MaxTokensPerChunk.
func (s *Stage) accumulate(units []unit) []string {
	var chunks []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		closed := cur.String()
		chunks = append(chunks, closed)
		cur.Reset()

		// Seed the next chunk with the tail of the one just closed.
		seed := overlapSeed(closed, s.overlapWords())
		if seed != "" {
			cur.WriteString(seed)
			curTokens = pipeline.EstimateTokens(seed)
		} else {
			curTokens = 0
		}
	}

	for _, u := range units {
		utok := pipeline.EstimateTokens(u.text)
		if curTokens+utok > s.cfg.MaxTokensPerChunk && cur.Len() > 0 {
			flush()
		}
		if cur.Len() > 0 {
			if u.sentence {
				cur.WriteString(" ")
			} else {
				cur.WriteString("\n\n")
			}
		}
		cur.WriteString(u.text)
		curTokens += utok
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// overlapWords converts the overlap token budget into a word count.
func (s *Stage) overlapWords() int {
	return int(float64(s.cfg.OverlapTokens) * 0.75)
}

// overlapSeed returns the last n words of text, joined with single spaces.
func overlapSeed(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// splitSentences splits text after '.', '!', or '?' followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && isSpace(runes[i+1]) {
				sent := strings.TrimSpace(string(runes[start : i+1]))
				if sent != "" {
					sentences = append(sentences, sent)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
