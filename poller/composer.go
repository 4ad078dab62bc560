package poller

import (
	"math"
	"time"

	"github.com/skillsenselab/tickstream/store"
	"github.com/skillsenselab/tickstream/stream"
)

// Composer turns detected quote changes into wire envelopes. It owns no
// state beyond the shared sequence; composing is a pure transformation
// plus an ID draw.
type Composer struct {
	seq         *stream.Sequence
	retryHintMS int
}

// NewComposer creates a composer drawing IDs from seq.
func NewComposer(seq *stream.Sequence, retryHintMS int) *Composer {
	return &Composer{seq: seq, retryHintMS: retryHintMS}
}

// Compose builds one delta envelope for an observed quote. Change
// fields are derived from the previous close; a zero previous close
// yields a zero percentage rather than a division blowup.
func (c *Composer) Compose(q store.Quote) stream.Envelope {
	change := q.Price - q.PrevClose
	var changePct float64
	if q.PrevClose != 0 {
		changePct = round2(change / q.PrevClose * 100)
	}
	return stream.Envelope{
		Type:      stream.EventDeltaUpdate,
		ID:        c.seq.Next(),
		Partition: q.Symbol,
		Payload: stream.DeltaPayload{
			Symbol:     q.Symbol,
			Price:      q.Price,
			Change:     round2(change),
			ChangePct:  changePct,
			Volume:     q.Volume,
			ObservedAt: q.ObservedAt.UTC(),
		},
		RetryHintMS: c.retryHintMS,
		EmittedAt:   time.Now(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
