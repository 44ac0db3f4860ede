package remote

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one line-framed server event. Name is empty for bare data
// frames.
type sseEvent struct {
	name string
	data []byte
}

// readSSE decodes an event-source-style body, invoking fn once per complete
// event. It returns when the stream ends or fn fails.
func readSSE(r io.Reader, fn func(ev sseEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var name string
	var data [][]byte
	dispatch := func() error {
		if len(data) == 0 {
			name = ""
			return nil
		}
		ev := sseEvent{name: name, data: bytes.Join(data, []byte("\n"))}
		name = ""
		data = nil
		return fn(ev)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(line, "data:")
			payload = strings.TrimPrefix(payload, " ")
			data = append(data, []byte(payload))
		case strings.HasPrefix(line, ":"):
			// comment frame, keep-alive
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return dispatch()
}
