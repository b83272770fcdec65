package commandbot

import (
	"strings"
	"unicode/utf8"
)

// chunkReply splits a reply at UTF-8-safe boundaries under cap bytes,
// preferring a line break, then a space, and only cutting mid-rune as
// a last resort.
func chunkReply(text string, cap int) []string {
	if cap <= 0 {
		cap = 200
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= cap {
			chunks = append(chunks, text)
			break
		}

		cut := lastBreakWithin(text, cap, '\n')
		if cut == 0 {
			cut = lastBreakWithin(text, cap, ' ')
		}
		if cut == 0 {
			cut = safeRuneBoundary(text, cap)
		}

		chunk := strings.TrimRight(text[:cut], " \n")
		if chunk == "" {
			chunk = text[:cut]
		}
		chunks = append(chunks, chunk)
		text = strings.TrimLeft(text[cut:], " \n")
	}
	return chunks
}

// lastBreakWithin returns the byte offset just after the last
// occurrence of sep at or before limit bytes in, or 0 if none exists.
func lastBreakWithin(text string, limit int, sep rune) int {
	if limit > len(text) {
		limit = len(text)
	}
	window := text[:limit]
	idx := strings.LastIndexByte(window, byte(sep))
	if idx < 0 {
		return 0
	}
	return idx + 1
}

// safeRuneBoundary returns the largest byte offset <= limit that does
// not split a UTF-8 rune.
func safeRuneBoundary(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
