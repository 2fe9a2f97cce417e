// Package chunker splits text into ordered, token-bounded chunks.
//
// Splitting is lossless: concatenating the Text of every chunk returns the
// input exactly, separators included. Boundaries depend only on the text,
// the budget and the counter, so the same inputs always give the same chunks.
package chunker

import (
	"strings"
	"unicode"

	"github.com/dgallion1/docask/internal/doctree"
	"github.com/dgallion1/docask/internal/tokencount"
)

// DefaultSeparator delimits paragraphs in rendered documents.
const DefaultSeparator = "\n\n"

// Chunk is a contiguous span of the source text.
type Chunk struct {
	Index     int    // Position in document order
	Text      string // Exact source span
	Tokens    int    // Estimated tokens for Text
	Oversized bool   // A single unit that alone exceeds the budget
}

// Split breaks text into chunks of whole words. A word carries its trailing
// whitespace; leading whitespace stays with the first word.
func Split(text string, maxTokens int, counter tokencount.Counter) []Chunk {
	return split(text, maxTokens, counter, wordUnits)
}

// SplitParagraphs breaks text into chunks of whole paragraphs, where each
// paragraph ends just after an occurrence of sep.
func SplitParagraphs(text, sep string, maxTokens int, counter tokencount.Counter) []Chunk {
	if sep == "" {
		sep = DefaultSeparator
	}
	return split(text, maxTokens, counter, func(s string) []string {
		return paragraphUnits(s, sep)
	})
}

// ChunkDocument renders doc and splits it on paragraph boundaries.
func ChunkDocument(doc *doctree.Document, sep string, maxTokens int, counter tokencount.Counter) []Chunk {
	if sep == "" {
		sep = DefaultSeparator
	}
	return SplitParagraphs(doc.Render(sep), sep, maxTokens, counter)
}

func split(text string, maxTokens int, counter tokencount.Counter, units func(string) []string) []Chunk {
	if text == "" {
		return nil
	}
	if total := counter.Count(text); total <= maxTokens {
		return []Chunk{{Index: 0, Text: text, Tokens: total}}
	}

	var (
		chunks    []Chunk
		current   strings.Builder
		curTokens int
		curUnits  int
	)

	flush := func() {
		if curUnits == 0 {
			return
		}
		s := current.String()
		tokens := counter.Count(s)
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      s,
			Tokens:    tokens,
			Oversized: curUnits == 1 && tokens > maxTokens,
		})
		current.Reset()
		curTokens = 0
		curUnits = 0
	}

	for _, u := range units(text) {
		uTokens := counter.Count(u)
		if curUnits > 0 && curTokens+uTokens > maxTokens {
			// Summed unit counts overestimate; recount before giving up on
			// the current chunk.
			exact := counter.Count(current.String() + u)
			if exact <= maxTokens {
				current.WriteString(u)
				curTokens = exact
				curUnits++
				continue
			}
			flush()
		}
		current.WriteString(u)
		curTokens += uTokens
		curUnits++
	}
	flush()

	return chunks
}

// wordUnits cuts s before every non-space rune that follows whitespace.
func wordUnits(s string) []string {
	var units []string
	start := 0
	prevSpace := false
	seenWord := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if !space && prevSpace && seenWord {
			units = append(units, s[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		prevSpace = space
	}
	if start < len(s) {
		units = append(units, s[start:])
	}
	return units
}

// paragraphUnits cuts s just after each occurrence of sep. Runs of extra
// newlines stay attached to the paragraph they follow.
func paragraphUnits(s, sep string) []string {
	var units []string
	for len(s) > 0 {
		i := strings.Index(s, sep)
		if i < 0 {
			units = append(units, s)
			break
		}
		end := i + len(sep)
		for end < len(s) && s[end] == '\n' {
			end++
		}
		units = append(units, s[:end])
		s = s[end:]
	}
	return units
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// MaxTokens returns the largest chunk token count.
func MaxTokens(chunks []Chunk) int {
	m := 0
	for _, c := range chunks {
		m = max(m, c.Tokens)
	}
	return m
}
