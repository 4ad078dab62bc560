package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Codec renders envelopes to the SSE text framing: event:, id:, retry:,
// and data: lines terminated by a blank line.
type Codec struct{}

// Encode serializes an envelope to one SSE frame.
func (Codec) Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s payload: %w", env.Type, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", env.Type)
	if env.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", env.ID)
	}
	if env.RetryHintMS > 0 {
		fmt.Fprintf(&buf, "retry: %d\n", env.RetryHintMS)
	}
	// json.Marshal never emits raw newlines, but the SSE framing rule is
	// cheap to honor for any payload.
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Comment renders an SSE comment line, used for the initial
// connection acknowledgment before any envelope is written.
func (Codec) Comment(text string) []byte {
	return []byte(fmt.Sprintf(": %s\n\n", text))
}
