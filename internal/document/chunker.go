package document

import "strings"

// Default word window.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Split breaks text into windows of size words. A window starts at every
// multiple of size-overlap below the word count, so the first size-overlap
// words of each window, in order, are exactly the input. Text of at most
// size-overlap words yields one chunk; blank text yields none. Words are
// re-joined with single spaces.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := size - overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
