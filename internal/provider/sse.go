package provider

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// readSSE calls handle with the payload of every "data:" line until handle
// reports the stream finished, the body ends or ctx is cancelled. Every
// outcome other than a finished stream ends with an Err chunk.
func readSSE(ctx context.Context, body io.ReadCloser, ch chan<- *StreamChunk, handle func(data string) (chunk *StreamChunk, done bool)) {
	defer close(ch)
	defer body.Close()

	send := func(c *StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		chunk, done := handle(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		if chunk != nil && !send(chunk) {
			return
		}
		if done {
			return
		}
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	send(&StreamChunk{Err: err})
}
