package orchestrator

import "strings"

// segmenter carves streamed content deltas into speakable sentences so
// synthesis starts at the first sentence boundary instead of waiting for the
// full response.
type segmenter struct {
	pending strings.Builder
}

// Push appends a delta and returns every sentence completed by it, in order.
// Text after the last boundary stays pending.
func (g *segmenter) Push(delta string) []string {
	g.pending.WriteString(delta)

	text := g.pending.String()
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !boundaryAt(text, i) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if start > 0 {
		rest := text[start:]
		g.pending.Reset()
		g.pending.WriteString(rest)
	}
	return out
}

// Flush returns the pending remainder, if any, and resets the segmenter.
func (g *segmenter) Flush() string {
	rest := strings.TrimSpace(g.pending.String())
	g.pending.Reset()
	return rest
}

// boundaryAt reports whether text[i] ends a sentence: a terminator followed
// by whitespace (mid-stream the terminator may also be the last byte seen,
// but then the next delta decides, so we require the trailing space).
func boundaryAt(text string, i int) bool {
	switch text[i] {
	case '.', '!', '?':
	default:
		return false
	}
	if i+1 >= len(text) {
		return false
	}
	switch text[i+1] {
	case ' ', '\n', '\t', '\r':
	default:
		return false
	}
	if text[i] == '.' && abbreviationBefore(text, i) {
		return false
	}
	return true
}

var spokenAbbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "jr": {}, "sr": {},
	"prof": {}, "st": {}, "vs": {}, "etc": {}, "inc": {}, "ltd": {},
	"e.g": {}, "i.e": {}, "a.m": {}, "p.m": {},
}

// abbreviationBefore reports whether the period at i closes a common
// abbreviation or a single-letter initial rather than a sentence.
func abbreviationBefore(text string, i int) bool {
	start := i
	for start > 0 && text[start-1] != ' ' && text[start-1] != '\n' {
		start--
	}
	word := strings.ToLower(text[start:i])
	if _, ok := spokenAbbreviations[word]; ok {
		return true
	}
	return len(word) == 1 && word[0] >= 'a' && word[0] <= 'z' && text[start] >= 'A' && text[start] <= 'Z'
}
