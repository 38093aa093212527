// ABOUTME: Server-Sent Events framing for streaming bus events over HTTP
// ABOUTME: Shared by the gateway's stream endpoint and the RemoteBus subscriber

package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteSSE writes event as a single SSE frame:
// event: <kind>\ndata: <event json>\n\n
func WriteSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}

// WriteSSEComment writes an SSE comment line, used as a keepalive.
func WriteSSEComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}

// readSSE decodes frames from r and calls emit for each one carrying data.
// Comment lines are skipped. It returns when r is exhausted or emit returns false.
func readSSE(r io.Reader, emit func(Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	dispatch := func() bool {
		if data.Len() == 0 {
			return true
		}
		var ev Event
		err := json.Unmarshal([]byte(data.String()), &ev)
		data.Reset()
		if err != nil {
			return true
		}
		return emit(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !dispatch() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// "event:" is redundant with Event.Kind in the payload
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}
