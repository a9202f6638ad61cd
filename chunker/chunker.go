package chunker

import (
	"strings"
	"unicode"
)

const DefaultWindowSize = 3

// Split breaks text on sentence boundaries and groups consecutive sentences
// into windows of up to windowSize sentences, joined by single spaces. The
// final window may hold fewer sentences. Windows do not overlap. Empty or
// whitespace-only input yields no chunks.
func Split(text string, windowSize int) []string {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}

	sentences := sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(sentences)+windowSize-1)/windowSize)

	for i := 0; i < len(sentences); i += windowSize {
		end := i + windowSize
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[i:end], " "))
	}

	return chunks
}

// sentences splits on '.', '!', or '?' followed by whitespace. A trailing
// run of text without a terminator is still a sentence.
func sentences(text string) []string {
	var result []string

	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		// consume a run of terminators, e.g. "?!" or "..."
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); len(s) > 0 {
			result = append(result, s)
		}
		start = i + 1
	}

	if s := strings.TrimSpace(string(runes[start:])); len(s) > 0 {
		result = append(result, s)
	}

	return result
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
