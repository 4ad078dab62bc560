package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skillsenselab/tickstream/component"
	"github.com/skillsenselab/tickstream/errors"
	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/store"
	"github.com/skillsenselab/tickstream/stream"
)

// fakeMarket is an in-memory MarketReader with per-symbol failure
// injection.
type fakeMarket struct {
	mu      sync.Mutex
	quotes  map[string][]store.Quote
	failing map[string]bool
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		quotes:  make(map[string][]store.Quote),
		failing: make(map[string]bool),
	}
}

func (m *fakeMarket) add(symbol string, price, prevClose float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = append(m.quotes[symbol], store.Quote{
		Symbol: symbol, Price: price, PrevClose: prevClose, Volume: 100, ObservedAt: at,
	})
}

func (m *fakeMarket) setFailing(symbol string, failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[symbol] = failing
}

func (m *fakeMarket) Symbols(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var symbols []string
	for s := range m.quotes {
		symbols = append(symbols, s)
	}
	return symbols, nil
}

func (m *fakeMarket) QuotesSince(_ context.Context, symbol string, after time.Time) ([]store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[symbol] {
		return nil, errors.DatabaseError(context.DeadlineExceeded)
	}
	var out []store.Quote
	for _, q := range m.quotes[symbol] {
		if q.ObservedAt.After(after) {
			out = append(out, q)
		}
	}
	return out, nil
}

// capture collects published envelopes.
type capture struct {
	mu   sync.Mutex
	envs []stream.Envelope
}

func (c *capture) Publish(_ context.Context, env stream.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *capture) all() []stream.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stream.Envelope(nil), c.envs...)
}

func newTestDetector(market *fakeMarket, pub Publisher) *Detector {
	log := logger.NewDefault("test")
	composer := NewComposer(stream.NewSequence(), 5000)
	return NewDetector(log, market, composer, pub, Config{PollIntervalMS: 3600000, FetchTimeoutMS: 1000})
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 15, 0, sec, 0, time.UTC)
}

func TestFirstSightEstablishesWatermarkWithoutEmitting(t *testing.T) {
	market := newFakeMarket()
	market.add("AAPL", 190.0, 189.0, at(1))
	market.add("AAPL", 191.0, 189.0, at(2))

	sink := &capture{}
	d := newTestDetector(market, sink)

	d.cycle()
	if got := len(sink.all()); got != 0 {
		t.Fatalf("first cycle published %d envelopes, want 0", got)
	}

	// Next cycle picks up only what arrived after the watermark.
	market.add("AAPL", 192.0, 189.0, at(3))
	d.cycle()

	envs := sink.all()
	if len(envs) != 1 {
		t.Fatalf("second cycle published %d envelopes, want 1", len(envs))
	}
	payload := envs[0].Payload.(stream.DeltaPayload)
	if payload.Price != 192.0 {
		t.Errorf("price = %v, want 192.0", payload.Price)
	}
}

func TestDeltasPublishedInObservationOrder(t *testing.T) {
	market := newFakeMarket()
	market.add("AAPL", 190.0, 189.0, at(1))

	sink := &capture{}
	d := newTestDetector(market, sink)
	d.cycle() // baseline

	market.add("AAPL", 191.0, 189.0, at(2))
	market.add("AAPL", 192.0, 189.0, at(3))
	d.cycle()

	envs := sink.all()
	if len(envs) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(envs))
	}
	if envs[0].ID >= envs[1].ID {
		t.Errorf("ids not monotonic: %q then %q", envs[0].ID, envs[1].ID)
	}
	first := envs[0].Payload.(stream.DeltaPayload)
	second := envs[1].Payload.(stream.DeltaPayload)
	if first.Price != 191.0 || second.Price != 192.0 {
		t.Errorf("out of order: %v then %v", first.Price, second.Price)
	}
}

func TestFailedPartitionSkippedAndRetried(t *testing.T) {
	market := newFakeMarket()
	market.add("AAPL", 190.0, 189.0, at(1))
	market.add("MSFT", 410.0, 408.0, at(1))

	sink := &capture{}
	d := newTestDetector(market, sink)
	d.cycle() // baselines for both

	market.add("AAPL", 191.0, 189.0, at(2))
	market.add("MSFT", 411.0, 408.0, at(2))
	market.setFailing("MSFT", true)
	d.cycle()

	// The healthy partition still progressed.
	envs := sink.all()
	if len(envs) != 1 || envs[0].Partition != "AAPL" {
		t.Fatalf("envelopes after failure = %v, want one AAPL delta", envs)
	}
	if h := d.Health(context.Background()); h.Status != component.StatusDegraded {
		t.Errorf("health = %s, want degraded", h.Status)
	}

	// Recovery replays from the untouched watermark: nothing was lost.
	market.setFailing("MSFT", false)
	d.cycle()

	envs = sink.all()
	if len(envs) != 2 {
		t.Fatalf("envelopes after recovery = %d, want 2", len(envs))
	}
	recovered := envs[1].Payload.(stream.DeltaPayload)
	if envs[1].Partition != "MSFT" || recovered.Price != 411.0 {
		t.Errorf("recovered delta = %s %v, want MSFT 411.0", envs[1].Partition, recovered.Price)
	}
	if h := d.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("health after recovery = %s, want healthy", h.Status)
	}
}

func TestComposeDerivesChangeFields(t *testing.T) {
	composer := NewComposer(stream.NewSequence(), 5000)

	env := composer.Compose(store.Quote{
		Symbol: "AAPL", Price: 191.45, PrevClose: 190.00, Volume: 1200, ObservedAt: at(1),
	})

	if env.Type != stream.EventDeltaUpdate {
		t.Errorf("type = %s", env.Type)
	}
	if env.Partition != "AAPL" {
		t.Errorf("partition = %s", env.Partition)
	}
	if env.RetryHintMS != 5000 {
		t.Errorf("retry hint = %d", env.RetryHintMS)
	}

	payload := env.Payload.(stream.DeltaPayload)
	if payload.Change != 1.45 {
		t.Errorf("change = %v, want 1.45", payload.Change)
	}
	if payload.ChangePct != 0.76 {
		t.Errorf("change_pct = %v, want 0.76", payload.ChangePct)
	}
}

func TestComposeZeroPrevClose(t *testing.T) {
	composer := NewComposer(stream.NewSequence(), 0)
	env := composer.Compose(store.Quote{Symbol: "IPO", Price: 10.0, ObservedAt: at(1)})

	payload := env.Payload.(stream.DeltaPayload)
	if payload.ChangePct != 0 {
		t.Errorf("change_pct = %v, want 0 for zero previous close", payload.ChangePct)
	}
	if payload.Change != 10.0 {
		t.Errorf("change = %v, want 10.0", payload.Change)
	}
}

func TestDetectorStartStop(t *testing.T) {
	market := newFakeMarket()
	market.add("AAPL", 190.0, 189.0, at(1))

	sink := &capture{}
	log := logger.NewDefault("test")
	composer := NewComposer(stream.NewSequence(), 5000)
	d := NewDetector(log, market, composer, sink, Config{PollIntervalMS: 10, FetchTimeoutMS: 1000})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop is idempotent.
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
