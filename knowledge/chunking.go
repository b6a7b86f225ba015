package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type chunkCandidate struct {
	Content     string
	ContentHash string
}

type chunker struct {
	maxChars     int
	overlapChars int
}

func newChunker(maxChars int, overlapChars int) *chunker {
	if maxChars <= 0 {
		maxChars = 1000
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = maxChars / 8
	}
	return &chunker{maxChars: maxChars, overlapChars: overlapChars}
}

// split cuts text into ordered chunk candidates. Paragraphs are kept whole
// where they fit; oversized paragraphs fall back to sentence boundaries and
// finally to fixed-width rune slices. Adjacent pieces of the same paragraph
// run share overlapChars of trailing/leading text.
func (c *chunker) split(text string) []chunkCandidate {
	cleaned := strings.TrimSpace(normalizeNewlines(text))
	if cleaned == "" {
		return nil
	}

	var pieces []string
	for _, paragraph := range splitParagraphs(cleaned) {
		runes := []rune(paragraph)
		if len(runes) <= c.maxChars {
			pieces = append(pieces, paragraph)
			continue
		}
		pieces = append(pieces, c.splitOversized(runes)...)
	}

	// Sliced pieces are kept verbatim so the overlap window between
	// consecutive slices stays intact even at whitespace boundaries.
	candidates := make([]chunkCandidate, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		candidates = append(candidates, chunkCandidate{
			Content:     piece,
			ContentHash: hashContent(piece),
		})
	}
	return candidates
}

// splitOversized slices one paragraph at sentence boundaries when possible,
// carrying the overlap window across consecutive slices.
func (c *chunker) splitOversized(runes []rune) []string {
	var out []string
	total := len(runes)
	start := 0
	for start < total {
		end := start + c.maxChars
		if end >= total {
			end = total
		} else {
			boundary := findSentenceBoundary(runes, start+c.maxChars/2, end)
			if boundary > start {
				end = boundary
			}
		}
		out = append(out, string(runes[start:end]))
		if end >= total {
			break
		}
		next := end - c.overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeNewlines(value string) string {
	if value == "" {
		return ""
	}
	replaced := strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(replaced, "\r", "\n")
}

func findSentenceBoundary(runes []rune, min int, max int) int {
	if min < 0 {
		min = 0
	}
	if max > len(runes) {
		max = len(runes)
	}
	if max <= min {
		return min
	}
	boundaryChars := []rune{'\n', '。', '！', '？', '.', '!', '?'}
	boundarySet := make(map[rune]struct{}, len(boundaryChars))
	for _, ch := range boundaryChars {
		boundarySet[ch] = struct{}{}
	}
	for i := max - 1; i >= min; i-- {
		if _, ok := boundarySet[runes[i]]; ok {
			return i + 1
		}
	}
	return max
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
