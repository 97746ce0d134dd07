package discord

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text into chunks of at most limit bytes, preferring to
// break at the last newline inside each window so reasoning stays grouped by
// paragraph. Hard splits land on rune boundaries so no chunk carries a torn
// multi-byte sequence. It never drops content: concatenating the chunks
// (restoring the newlines consumed at break points) reproduces the input.
func ChunkText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			// No newline in the window; hard split at a rune boundary.
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				// A single rune wider than the limit (or invalid UTF-8);
				// split mid-sequence rather than loop forever.
				cut = limit
			}
			chunks = append(chunks, text[:cut])
			text = text[cut:]
			continue
		}
		chunks = append(chunks, text[:cut])
		text = text[cut+1:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
