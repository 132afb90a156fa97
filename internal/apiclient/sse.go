package apiclient

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// readSSE parses a server-sent-event stream, delivering each data payload
// to onEvent.
func readSSE(r io.Reader, onEvent func(json.RawMessage)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 && onEvent != nil {
				onEvent(json.RawMessage(data.String()))
			}
			data.Reset()
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(value))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
