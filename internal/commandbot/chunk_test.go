package commandbot

import (
	"strings"
	"testing"
)

func TestChunkReply_ShortTextIsOneChunk(t *testing.T) {
	chunks := chunkReply("hello", 200)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestChunkReply_PrefersLineBreak(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	chunks := chunkReply(text, 12)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 10) {
		t.Errorf("first chunk = %q", chunks[0])
	}
	if chunks[1] != strings.Repeat("b", 10) {
		t.Errorf("second chunk = %q", chunks[1])
	}
}

func TestChunkReply_FallsBackToSpace(t *testing.T) {
	text := "one two three four five"
	chunks := chunkReply(text, 10)
	for _, c := range chunks {
		if len(c) > 10 {
			t.Errorf("chunk %q exceeds cap", c)
		}
	}
	if strings.Join(chunks, " ") != text {
		t.Errorf("rejoined chunks = %q, want %q", strings.Join(chunks, " "), text)
	}
}

func TestChunkReply_NeverSplitsARune(t *testing.T) {
	text := strings.Repeat("é", 20) // each 'é' is 2 bytes in UTF-8
	chunks := chunkReply(text, 7)
	for _, c := range chunks {
		if !isValidUTF8Chunk(c) {
			t.Errorf("chunk %q split a multi-byte rune", c)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Errorf("rejoined = %q, want %q", strings.Join(chunks, ""), text)
	}
}

func isValidUTF8Chunk(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestChunkReply_EmptyInput(t *testing.T) {
	if chunks := chunkReply("", 10); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %+v", chunks)
	}
}
