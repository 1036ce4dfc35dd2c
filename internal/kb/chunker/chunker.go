// Package chunker splits extracted document text into overlapping chunks
// sized by an approximate token budget.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is one emitted span. StartOffset/EndOffset are rune offsets into the
// original text and cover only the chunk's own sentences; overlap seeded from
// the previous chunk is duplicated content, not duplicated offsets.
type Chunk struct {
	Text        string
	Index       int
	StartOffset int
	EndOffset   int
	TokenCount  int
}

const defaultTargetTokens = 256

// EstimateTokens is a cheap proxy for tokenizer output: ceil(runes/4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Split cuts text into sentence units on terminator punctuation and greedily
// packs them into chunks of at most targetTokens estimated tokens. Each chunk
// after the first is re-seeded with the trailing overlapTokens-worth of words
// from the chunk before it. A single sentence over the budget is still
// emitted whole, never dropped or cut mid-sentence. Empty or whitespace-only
// input yields no chunks. Indices are 0..n-1 in emission order.
func Split(text string, targetTokens, overlapTokens int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if targetTokens <= 0 {
		targetTokens = defaultTargetTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}

	units := splitSentences([]rune(text))
	if len(units) == 0 {
		return nil
	}

	var out []Chunk
	var buf []sentence
	seed := ""

	render := func(extra *sentence) string {
		parts := make([]string, 0, len(buf)+2)
		if seed != "" {
			parts = append(parts, seed)
		}
		for _, u := range buf {
			parts = append(parts, u.text)
		}
		if extra != nil {
			parts = append(parts, extra.text)
		}
		return strings.Join(parts, " ")
	}

	flush := func() {
		if len(buf) == 0 {
			return
		}
		content := render(nil)
		out = append(out, Chunk{
			Text:        content,
			Index:       len(out),
			StartOffset: buf[0].start,
			EndOffset:   buf[len(buf)-1].end,
			TokenCount:  EstimateTokens(content),
		})
		seed = trailingWords(content, overlapTokens)
		buf = buf[:0]
	}

	for i := range units {
		u := units[i]
		if len(buf) > 0 && EstimateTokens(render(&u)) > targetTokens {
			flush()
		}
		buf = append(buf, u)
	}
	flush()

	return out
}

type sentence struct {
	text  string
	start int
	end   int
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitSentences walks the rune slice emitting sentence-like units, each
// ending after a run of terminator punctuation. Text without any terminator
// becomes a single unit.
func splitSentences(r []rune) []sentence {
	var units []sentence
	i := 0
	n := len(r)
	for i < n {
		for i < n && unicode.IsSpace(r[i]) {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n {
			if isTerminator(r[i]) {
				for i < n && isTerminator(r[i]) {
					i++
				}
				break
			}
			i++
		}
		end := i
		txt := strings.TrimSpace(string(r[start:end]))
		if txt != "" {
			units = append(units, sentence{text: txt, start: start, end: end})
		}
	}
	return units
}

// trailingWords returns the longest suffix of whole words whose token
// estimate stays within overlapTokens.
func trailingWords(s string, overlapTokens int) string {
	if overlapTokens <= 0 {
		return ""
	}
	words := strings.Fields(s)
	take := 0
	for i := len(words) - 1; i >= 0; i-- {
		cand := strings.Join(words[i:], " ")
		if EstimateTokens(cand) > overlapTokens {
			break
		}
		take = len(words) - i
	}
	if take == 0 {
		return ""
	}
	return strings.Join(words[len(words)-take:], " ")
}
