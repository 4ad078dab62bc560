package stream

import (
	"strings"
	"testing"
	"time"
)

func TestEncodeDeltaFrame(t *testing.T) {
	env := Envelope{
		Type:      EventDeltaUpdate,
		ID:        "00000000000000000042",
		Partition: "AAPL",
		Payload: DeltaPayload{
			Symbol:     "AAPL",
			Price:      191.45,
			Change:     1.2,
			ChangePct:  0.63,
			Volume:     1200,
			ObservedAt: time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC),
		},
		RetryHintMS: 5000,
	}

	frame, err := Codec{}.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := string(frame)

	for _, want := range []string{
		"event: delta_update\n",
		"id: 00000000000000000042\n",
		"retry: 5000\n",
		`"symbol":"AAPL"`,
		`"price":191.45`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("frame missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Errorf("frame not terminated by blank line:\n%q", got)
	}
}

func TestEncodeOmitsEmptyOptionalLines(t *testing.T) {
	frame, err := Codec{}.Encode(Envelope{
		Type:    EventHeartbeat,
		Payload: HeartbeatPayload{Connections: 3},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := string(frame)
	if strings.Contains(got, "id:") {
		t.Errorf("unexpected id line:\n%s", got)
	}
	if strings.Contains(got, "retry:") {
		t.Errorf("unexpected retry line:\n%s", got)
	}
}

func TestComment(t *testing.T) {
	got := string(Codec{}.Comment("connected abc"))
	if got != ": connected abc\n\n" {
		t.Errorf("Comment = %q", got)
	}
}

func TestSequenceMonotonicAndSortable(t *testing.T) {
	seq := NewSequence()
	if seq.Current() != "" {
		t.Errorf("fresh sequence Current = %q, want empty", seq.Current())
	}

	prev := ""
	for i := 0; i < 1000; i++ {
		id := seq.Next()
		if len(id) != 20 {
			t.Fatalf("id %q is not fixed width", id)
		}
		if id <= prev {
			t.Fatalf("id %q not greater than previous %q", id, prev)
		}
		prev = id
	}
	if seq.Current() != prev {
		t.Errorf("Current = %q, want %q", seq.Current(), prev)
	}
}

func TestSequenceConcurrentUnique(t *testing.T) {
	seq := NewSequence()
	const workers, perWorker = 8, 500

	out := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		go func() {
			for i := 0; i < perWorker; i++ {
				out <- seq.Next()
			}
		}()
	}

	seen := make(map[string]bool, workers*perWorker)
	for i := 0; i < workers*perWorker; i++ {
		id := <-out
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
