package stream

import (
	"fmt"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := Config{
		PollIntervalMS: 10,
		GraceCycles:    3,
		BufferDepth:    4,
		WriteTimeoutMS: 100,
	}
	cfg.ApplyDefaults()
	return cfg
}

func delta(id, symbol string) Envelope {
	return Envelope{
		Type:      EventDeltaUpdate,
		ID:        id,
		Partition: symbol,
		Payload:   DeltaPayload{Symbol: symbol},
	}
}

func heartbeat(id string) Envelope {
	return Envelope{Type: EventHeartbeat, ID: id, Payload: HeartbeatPayload{}}
}

func TestAcceptsGlobalTakesEverything(t *testing.T) {
	c := NewConnection(ScopeGlobal, nil, "", testConfig())
	for _, env := range []Envelope{delta("1", "AAPL"), delta("2", "MSFT"), heartbeat("3")} {
		if !c.Accepts(env) {
			t.Errorf("global scope rejected %s/%s", env.Type, env.Partition)
		}
	}
}

func TestAcceptsBoundFiltersPartitions(t *testing.T) {
	c := NewConnection(ScopeBound, []string{"AAPL"}, "", testConfig())

	if !c.Accepts(delta("1", "AAPL")) {
		t.Error("bound scope rejected its own partition")
	}
	if c.Accepts(delta("2", "MSFT")) {
		t.Error("bound scope accepted a foreign partition")
	}
	if !c.Accepts(heartbeat("3")) {
		t.Error("bound scope rejected a heartbeat")
	}
}

func TestOfferSignalsReady(t *testing.T) {
	c := NewConnection(ScopeGlobal, nil, "", testConfig())
	c.Transition(StateStreaming)

	if enq, _ := c.Offer(delta("1", "AAPL")); !enq {
		t.Fatal("Offer rejected an acceptable envelope")
	}
	select {
	case <-c.Ready():
	default:
		t.Fatal("Ready not signaled after Offer")
	}

	got := c.Drain()
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("Drain = %v", got)
	}
	if c.Drain() != nil {
		t.Error("second Drain should return nil")
	}
}

func TestOfferDropsOldestNonHeartbeatWhenFull(t *testing.T) {
	c := NewConnection(ScopeGlobal, nil, "", testConfig())
	c.Transition(StateStreaming)

	c.Offer(heartbeat("1"))
	c.Offer(delta("2", "AAPL"))
	c.Offer(delta("3", "MSFT"))
	c.Offer(delta("4", "AAPL"))

	// Buffer is full (depth 4); the oldest delta goes, the heartbeat stays.
	enq, dropped := c.Offer(delta("5", "MSFT"))
	if !enq || !dropped {
		t.Fatalf("Offer on full buffer = (%v, %v), want (true, true)", enq, dropped)
	}

	var ids []string
	for _, env := range c.Drain() {
		ids = append(ids, env.ID)
	}
	want := []string{"1", "3", "4", "5"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("buffered ids = %v, want %v", ids, want)
	}
}

func TestOfferInsertsLateHeartbeatInIDOrder(t *testing.T) {
	c := NewConnection(ScopeGlobal, nil, "", testConfig())
	c.Transition(StateStreaming)

	// A heartbeat draws its ID before Offer runs, so deltas with later
	// IDs can be buffered first. Delivery order must stay by ID.
	c.Offer(delta("5", "AAPL"))
	c.Offer(delta("7", "MSFT"))
	c.Offer(heartbeat("6"))

	var ids []string
	for _, env := range c.Drain() {
		ids = append(ids, env.ID)
	}
	want := []string{"5", "6", "7"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("buffered ids = %v, want %v", ids, want)
	}
}

func TestOfferDropsIncomingWhenOnlyHeartbeatsBuffered(t *testing.T) {
	cfg := testConfig()
	cfg.BufferDepth = 2
	c := NewConnection(ScopeGlobal, nil, "", cfg)
	c.Transition(StateStreaming)

	c.Offer(heartbeat("1"))
	c.Offer(heartbeat("2"))

	enq, dropped := c.Offer(heartbeat("3"))
	if enq || !dropped {
		t.Fatalf("Offer = (%v, %v), want (false, true)", enq, dropped)
	}
	if got := c.Buffered(); got != 2 {
		t.Errorf("Buffered = %d, want 2", got)
	}
}

func TestSaturationBeyondGraceEvicts(t *testing.T) {
	cfg := testConfig() // grace = 3 * 10ms
	cfg.BufferDepth = 2
	c := NewConnection(ScopeGlobal, nil, "", cfg)
	c.Transition(StateStreaming)

	c.Offer(delta("1", "AAPL"))
	c.Offer(delta("2", "AAPL"))
	c.Offer(delta("3", "AAPL")) // starts the saturation clock

	select {
	case <-c.Evicted():
		t.Fatal("evicted before grace period elapsed")
	default:
	}

	time.Sleep(50 * time.Millisecond)
	c.Offer(delta("4", "AAPL"))

	select {
	case <-c.Evicted():
	default:
		t.Fatal("not evicted after sustained saturation past grace")
	}
}

func TestDrainClearsSaturationClock(t *testing.T) {
	cfg := testConfig()
	cfg.BufferDepth = 2
	c := NewConnection(ScopeGlobal, nil, "", cfg)
	c.Transition(StateStreaming)

	c.Offer(delta("1", "AAPL"))
	c.Offer(delta("2", "AAPL"))
	c.Offer(delta("3", "AAPL")) // saturated

	c.Drain() // consumer caught up

	time.Sleep(50 * time.Millisecond)
	c.Offer(delta("4", "AAPL"))
	c.Offer(delta("5", "AAPL"))
	c.Offer(delta("6", "AAPL"))

	select {
	case <-c.Evicted():
		t.Fatal("evicted despite the consumer having caught up in between")
	default:
	}
}

func TestTransitionStopsAtTerminalState(t *testing.T) {
	c := NewConnection(ScopeGlobal, nil, "", testConfig())

	if !c.Transition(StateAdmitted) {
		t.Fatal("REQUESTED -> ADMITTED rejected")
	}
	if !c.Transition(StateStreaming) {
		t.Fatal("ADMITTED -> STREAMING rejected")
	}
	if !c.Transition(StateClosedClient) {
		t.Fatal("STREAMING -> CLOSED_CLIENT rejected")
	}
	if c.Transition(StateClosedError) {
		t.Error("transition out of a terminal state succeeded")
	}
	if got := c.State(); got != StateClosedClient {
		t.Errorf("State = %s, want CLOSED_CLIENT", got)
	}
}

func TestOfferAfterCloseIsNoop(t *testing.T) {
	c := NewConnection(ScopeGlobal, nil, "", testConfig())
	c.Transition(StateClosedClient)

	if enq, _ := c.Offer(delta("1", "AAPL")); enq {
		t.Error("Offer enqueued on a closed connection")
	}
	if got := c.Buffered(); got != 0 {
		t.Errorf("Buffered = %d, want 0", got)
	}
}
