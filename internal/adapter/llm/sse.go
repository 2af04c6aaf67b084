package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"skillagent/internal/domain"
)

// maxSSELine is the largest single SSE line accepted from a provider.
const maxSSELine = 1 << 20

// sseLineParser converts one SSE data payload into fragments. finished
// reports that the provider signalled the end of the turn.
type sseLineParser func(data []byte) (frags []domain.StreamFragment, finished bool, err error)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into StreamFragments using the provider-specific parseLine function.
//
// The channel is closed after "[DONE]", or at EOF once a finish was seen. A
// read error or an EOF before the turn finished yields a final fragment
// carrying ErrStreamInterrupted. Cancelling ctx stops the reader without a
// trailing fragment.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine sseLineParser) <-chan domain.StreamFragment {
	ch := make(chan domain.StreamFragment, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(f domain.StreamFragment) bool {
			select {
			case ch <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Closing the body unblocks a Scan waiting on the network.
		stop := context.AfterFunc(ctx, func() { body.Close() })
		defer stop()

		finished := false
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// We only care about "data:" lines.
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)

			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			frags, done, err := parseLine(data)
			if err != nil {
				// Skip unparseable lines.
				continue
			}
			for _, f := range frags {
				if !send(f) {
					return
				}
			}
			if done {
				finished = true
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			send(domain.StreamFragment{Err: fmt.Errorf("%w: read stream: %w", domain.ErrStreamInterrupted, err)})
			return
		}
		if !finished {
			send(domain.StreamFragment{Err: fmt.Errorf("%w: stream ended before the turn finished", domain.ErrStreamInterrupted)})
		}
	}()
	return ch
}
