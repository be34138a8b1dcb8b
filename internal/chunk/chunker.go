// Package chunk splits file text into overlapping fixed-size segments for
// embedding.
package chunk

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for chunking parameters that violate
// 0 <= overlap < size.
var ErrInvalidConfig = errors.New("chunk: overlap must satisfy 0 <= overlap < size")

// Chunk is one contiguous text span of a file. Start and End are rune offsets
// into the source text, End exclusive.
type Chunk struct {
	ID       string
	FilePath string
	Ordinal  int
	Start    int
	End      int
	Text     string
}

// ID derives the stable chunk identifier from a relative file path and the
// chunk's ordinal position. Identity is positional, not content-addressed:
// re-embedding the same position overwrites the previous entry instead of
// duplicating it.
func ID(relPath string, ordinal int) string {
	return fmt.Sprintf("%s#%d", relPath, ordinal)
}

// Chunker produces overlapping fixed-size chunks. Chunk i covers rune offsets
// [i*(size-overlap), i*(size-overlap)+size), the final chunk truncated to the
// remaining text.
type Chunker struct {
	size    int
	overlap int
}

// New validates the parameters and returns a Chunker.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Count returns the number of chunks the given text produces.
func (c *Chunker) Count(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	if n <= c.size {
		return 1
	}
	step := c.size - c.overlap
	return (n - c.overlap + step - 1) / step
}

// Split chunks the whole text at once.
func (c *Chunker) Split(relPath, text string) []Chunk {
	cur := c.Cursor(relPath, text)
	var out []Chunk
	for {
		ch, ok := cur.Next()
		if !ok {
			return out
		}
		out = append(out, ch)
	}
}

// Cursor returns a lazy iterator over the chunks of text. The cursor is
// restartable via Reset.
func (c *Chunker) Cursor(relPath, text string) *Cursor {
	return &Cursor{
		chunker: c,
		relPath: relPath,
		runes:   []rune(text),
	}
}

// Cursor walks the chunks of one file's text.
type Cursor struct {
	chunker *Chunker
	relPath string
	runes   []rune
	ordinal int
}

// Next returns the next chunk, or ok=false when the text is exhausted.
func (cur *Cursor) Next() (Chunk, bool) {
	step := cur.chunker.size - cur.chunker.overlap
	start := cur.ordinal * step
	if len(cur.runes) == 0 || start >= len(cur.runes) {
		return Chunk{}, false
	}
	// A trailing span fully covered by the previous chunk's overlap carries
	// no new text.
	if cur.ordinal > 0 && start+cur.chunker.overlap >= len(cur.runes) {
		return Chunk{}, false
	}
	end := start + cur.chunker.size
	if end > len(cur.runes) {
		end = len(cur.runes)
	}
	ch := Chunk{
		ID:       ID(cur.relPath, cur.ordinal),
		FilePath: cur.relPath,
		Ordinal:  cur.ordinal,
		Start:    start,
		End:      end,
		Text:     string(cur.runes[start:end]),
	}
	cur.ordinal++
	return ch, true
}

// Reset rewinds the cursor to the first chunk.
func (cur *Cursor) Reset() {
	cur.ordinal = 0
}
