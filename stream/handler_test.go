package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/skillsenselab/tickstream/auth"
	apperrors "github.com/skillsenselab/tickstream/errors"
	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/store"
)

type fakeWatchlists struct {
	byID map[uuid.UUID]*store.Watchlist
}

func (f *fakeWatchlists) WatchlistByID(_ context.Context, id uuid.UUID) (*store.Watchlist, error) {
	if wl, ok := f.byID[id]; ok {
		return wl, nil
	}
	return nil, apperrors.NotFound("watchlist", id.String())
}

type testStack struct {
	server      *httptest.Server
	hub         *Hub
	seq         *Sequence
	verifier    *auth.Verifier
	watchlistID uuid.UUID
	ownerID     string
}

func newTestStack(t *testing.T, cfg Config) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewDefault("test")
	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	watchlistID := uuid.New()
	const ownerID = "user-1"
	watchlists := &fakeWatchlists{byID: map[uuid.UUID]*store.Watchlist{
		watchlistID: {
			ID:      watchlistID,
			OwnerID: ownerID,
			Name:    "tech",
			Entries: []store.WatchlistEntry{
				{WatchlistID: watchlistID, Symbol: "MSFT", Position: 0},
			},
		},
	}}

	verifier, err := auth.NewVerifier(&auth.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	registry := NewRegistry(cfg.MaxConnections)
	seq := NewSequence()
	hub := NewHub(log, metrics, cfg.BufferDepth)
	gate := NewAdmissionGate(log, registry, watchlists, metrics, cfg)
	handler := NewHandler(log, gate, hub, registry, seq, metrics, cfg)

	router := gin.New()
	router.Use(auth.Middleware(verifier))
	handler.Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testStack{
		server:      server,
		hub:         hub,
		seq:         seq,
		verifier:    verifier,
		watchlistID: watchlistID,
		ownerID:     ownerID,
	}
}

func (ts *testStack) token(t *testing.T, subject string) string {
	t.Helper()
	claims := &auth.Claims{}
	claims.Subject = subject
	token, err := ts.verifier.Sign(claims, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return token
}

// open starts an SSE request and returns a reader positioned after the
// connection acknowledgment comment.
func (ts *testStack) open(t *testing.T, path, token, lastEventID string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.server.URL+path, nil)
	if err != nil {
		cancel()
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := ts.server.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("acknowledgment comment = %q, err = %v", line, err)
	}

	return br, func() {
		cancel()
		resp.Body.Close()
	}
}

// event is one parsed SSE frame.
type event struct {
	name string
	id   string
	data string
}

// readEvent parses the next non-comment SSE frame.
func readEvent(t *testing.T, br *bufio.Reader) event {
	t.Helper()
	var ev event
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" || ev.data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			ev.data += strings.TrimPrefix(line, "data: ")
		}
	}
}

// waitForConnections polls until the hub reports n attached connections.
func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d connections (at %d)", n, hub.Connections())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (ts *testStack) publishDelta(symbol string, price float64) string {
	id := ts.seq.Next()
	ts.hub.Publish(context.Background(), Envelope{
		Type:      EventDeltaUpdate,
		ID:        id,
		Partition: symbol,
		Payload:   DeltaPayload{Symbol: symbol, Price: price, ObservedAt: time.Now().UTC()},
		EmittedAt: time.Now(),
	})
	return id
}

func TestGlobalStreamDeliversDeltas(t *testing.T) {
	ts := newTestStack(t, testConfig())

	br, closeStream := ts.open(t, "/stream", "", "")
	defer closeStream()
	waitForConnections(t, ts.hub, 1)

	wantID := ts.publishDelta("AAPL", 191.45)

	ev := readEvent(t, br)
	if ev.name != "delta_update" {
		t.Fatalf("event = %q, want delta_update", ev.name)
	}
	if ev.id != wantID {
		t.Errorf("id = %q, want %q", ev.id, wantID)
	}

	var payload DeltaPayload
	if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Symbol != "AAPL" || payload.Price != 191.45 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestBoundStreamRequiresToken(t *testing.T) {
	ts := newTestStack(t, testConfig())

	resp, err := http.Get(ts.server.URL + "/stream/" + ts.watchlistID.String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body apperrors.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != apperrors.ErrCodeUnauthorized {
		t.Errorf("code = %s, want UNAUTHORIZED", body.Error.Code)
	}
}

func TestBoundStreamRejectsNonOwner(t *testing.T) {
	ts := newTestStack(t, testConfig())

	req, _ := http.NewRequest(http.MethodGet, ts.server.URL+"/stream/"+ts.watchlistID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "someone-else"))
	resp, err := ts.server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var body apperrors.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != apperrors.ErrCodeForbidden {
		t.Errorf("code = %s, want FORBIDDEN", body.Error.Code)
	}
}

func TestBoundStreamUnknownWatchlist(t *testing.T) {
	ts := newTestStack(t, testConfig())

	req, _ := http.NewRequest(http.MethodGet, ts.server.URL+"/stream/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+ts.token(t, ts.ownerID))
	resp, err := ts.server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBoundStreamFiltersToWatchlistSymbols(t *testing.T) {
	ts := newTestStack(t, testConfig())

	br, closeStream := ts.open(t, "/stream/"+ts.watchlistID.String(), ts.token(t, ts.ownerID), "")
	defer closeStream()
	waitForConnections(t, ts.hub, 1)

	ts.publishDelta("AAPL", 191.45) // not on the watchlist
	wantID := ts.publishDelta("MSFT", 410.10)

	ev := readEvent(t, br)
	if ev.id != wantID {
		t.Fatalf("first delivered id = %q, want the MSFT delta %q", ev.id, wantID)
	}
	var payload DeltaPayload
	if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Symbol != "MSFT" {
		t.Errorf("symbol = %q, want MSFT", payload.Symbol)
	}
}

func TestCapacityExceededReturns503(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	ts := newTestStack(t, cfg)

	_, closeStream := ts.open(t, "/stream", "", "")
	defer closeStream()
	waitForConnections(t, ts.hub, 1)

	resp, err := http.Get(ts.server.URL + "/stream")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "10" {
		t.Errorf("Retry-After = %q, want 10", got)
	}
	var body apperrors.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != apperrors.ErrCodeCapacityExceeded {
		t.Errorf("code = %s, want CAPACITY_EXCEEDED", body.Error.Code)
	}
	if !body.Error.Retryable {
		t.Error("capacity rejection should be retryable")
	}
}

func TestSlotReclaimedAfterDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	ts := newTestStack(t, cfg)

	_, closeStream := ts.open(t, "/stream", "", "")
	waitForConnections(t, ts.hub, 1)
	closeStream()
	waitForConnections(t, ts.hub, 0)

	br, closeSecond := ts.open(t, "/stream", "", "")
	defer closeSecond()
	waitForConnections(t, ts.hub, 1)

	wantID := ts.publishDelta("AAPL", 192.00)
	if ev := readEvent(t, br); ev.id != wantID {
		t.Errorf("id = %q, want %q", ev.id, wantID)
	}
}

func TestHeartbeatDuringMarketSilence(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatIntervalMS = 50
	ts := newTestStack(t, cfg)

	br, closeStream := ts.open(t, "/stream", "", "")
	defer closeStream()

	ev := readEvent(t, br)
	if ev.name != "heartbeat" {
		t.Fatalf("event = %q, want heartbeat", ev.name)
	}
	if ev.id == "" {
		t.Error("heartbeat carries no id")
	}
	var payload HeartbeatPayload
	if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Connections != 1 {
		t.Errorf("connections = %d, want 1", payload.Connections)
	}
}

func TestShutdownDrainTerminatesStreams(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	ts := newTestStack(t, cfg)

	br, closeStream := ts.open(t, "/stream", "", "")
	defer closeStream()
	waitForConnections(t, ts.hub, 1)

	// The shutdown hook evicts every attached connection; the dispatch
	// loop exits through its eviction path and the response ends.
	ts.hub.EvictAll()

	if _, err := br.ReadString('\n'); err == nil {
		t.Error("stream still open after the drain")
	}
	waitForConnections(t, ts.hub, 0)

	// The slot was released exactly once: the ceiling of one admits a
	// new connection that streams normally.
	next, closeNext := ts.open(t, "/stream", "", "")
	defer closeNext()
	waitForConnections(t, ts.hub, 1)

	wantID := ts.publishDelta("AAPL", 193.20)
	if ev := readEvent(t, next); ev.id != wantID {
		t.Errorf("id = %q, want %q", ev.id, wantID)
	}
}

// slowWriter models a consumer whose socket accepts writes slowly,
// keeping the dispatch loop busy while the outbound buffer saturates.
type slowWriter struct {
	delay  time.Duration
	header http.Header
}

func (w *slowWriter) Header() http.Header { return w.header }
func (w *slowWriter) WriteHeader(int)     {}
func (w *slowWriter) Flush()              {}
func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	return len(p), nil
}

func TestSlowConsumerEvictedFromDispatchLoop(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.BufferDepth = 2
	cfg.PollIntervalMS = 5
	cfg.GraceCycles = 1
	cfg.HeartbeatIntervalMS = 60000
	cfg.WriteTimeoutMS = 60000 // the consumer is slow, not dead

	gin.SetMode(gin.TestMode)
	log := logger.NewDefault("test")
	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	registry := NewRegistry(cfg.MaxConnections)
	seq := NewSequence()
	hub := NewHub(log, metrics, cfg.BufferDepth)
	gate := NewAdmissionGate(log, registry, nil, metrics, cfg)
	handler := NewHandler(log, gate, hub, registry, seq, metrics, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := gate.AdmitGlobal(ctx, "")
	if err != nil {
		t.Fatalf("AdmitGlobal: %v", err)
	}

	// A subscriber with headroom keeps receiving throughout.
	healthyCfg := cfg
	healthyCfg.BufferDepth = 8192
	healthy := NewConnection(ScopeGlobal, nil, "", healthyCfg)
	healthy.Transition(StateStreaming)
	hub.Attach(ctx, healthy)

	c, _ := gin.CreateTestContext(&slowWriter{delay: 15 * time.Millisecond, header: make(http.Header)})
	c.Request = httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		handler.serve(c, conn)
		close(done)
	}()

	// Publish faster than the writer drains until the grace period
	// trips.
	deadline := time.Now().Add(2 * time.Second)
	for evicted := false; !evicted; {
		if time.Now().After(deadline) {
			t.Fatal("connection never evicted under sustained saturation")
		}
		hub.Publish(ctx, delta(seq.Next(), "AAPL"))
		select {
		case <-conn.Evicted():
			evicted = true
		default:
			time.Sleep(time.Millisecond)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not exit after eviction")
	}
	if got := conn.State(); got != StateClosedCapacityReclaim {
		t.Errorf("state = %s, want CLOSED_CAPACITY_RECLAIM", got)
	}

	// The slot was released exactly once: with a ceiling of one, a new
	// admission succeeds.
	next, err := gate.AdmitGlobal(ctx, "")
	if err != nil {
		t.Fatalf("admission after reclaim: %v", err)
	}
	next.ReleaseSlot()

	// The healthy subscriber is untouched and still receives.
	marker := seq.Next()
	hub.Publish(ctx, delta(marker, "AAPL"))
	found := false
	for _, env := range healthy.Drain() {
		if env.ID == marker {
			found = true
		}
	}
	if !found {
		t.Error("healthy subscriber missed events after the eviction")
	}
	if hub.Connections() != 1 {
		t.Errorf("Connections = %d, want the healthy subscriber only", hub.Connections())
	}
}

func TestResumeReplaysMissedEvents(t *testing.T) {
	ts := newTestStack(t, testConfig())

	first := ts.publishDelta("AAPL", 191.00)
	second := ts.publishDelta("MSFT", 410.00)
	third := ts.publishDelta("AAPL", 191.50)

	br, closeStream := ts.open(t, "/stream", "", first)
	defer closeStream()

	if ev := readEvent(t, br); ev.id != second {
		t.Errorf("first replayed id = %q, want %q", ev.id, second)
	}
	if ev := readEvent(t, br); ev.id != third {
		t.Errorf("second replayed id = %q, want %q", ev.id, third)
	}
}

func TestResumeInterleavesWithLiveFeed(t *testing.T) {
	ts := newTestStack(t, testConfig())

	first := ts.publishDelta("AAPL", 191.00)
	second := ts.publishDelta("AAPL", 191.25)

	br, closeStream := ts.open(t, "/stream", "", first)
	defer closeStream()
	waitForConnections(t, ts.hub, 1)

	live := ts.publishDelta("AAPL", 191.50)

	if ev := readEvent(t, br); ev.id != second {
		t.Errorf("replayed id = %q, want %q", ev.id, second)
	}
	if ev := readEvent(t, br); ev.id != live {
		t.Errorf("live id = %q, want %q", ev.id, live)
	}
}
