package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skillsenselab/tickstream/component"
	"github.com/skillsenselab/tickstream/errors"
	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/store"
	"github.com/skillsenselab/tickstream/stream"
)

// Config holds change-detector configuration.
type Config struct {
	// PollIntervalMS is the cycle cadence. It must match the streaming
	// layer's poll interval, which anchors the backpressure grace period.
	PollIntervalMS int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	// FetchTimeoutMS bounds a single per-symbol store fetch.
	FetchTimeoutMS int `yaml:"fetch_timeout_ms" mapstructure:"fetch_timeout_ms"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 5000
	}
	if c.FetchTimeoutMS == 0 {
		c.FetchTimeoutMS = 2000
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poller.poll_interval_ms must be positive (got: %d)", c.PollIntervalMS)
	}
	if c.FetchTimeoutMS <= 0 {
		return fmt.Errorf("poller.fetch_timeout_ms must be positive (got: %d)", c.FetchTimeoutMS)
	}
	return nil
}

// PollInterval returns the cycle cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// FetchTimeout returns the per-fetch deadline as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// Publisher receives composed envelopes; satisfied by the stream hub.
type Publisher interface {
	Publish(ctx context.Context, env stream.Envelope)
}

// Detector polls the quote store and publishes a delta for every new
// observation. One goroutine owns the cursor map; Health reads shared
// status under a mutex.
//
// A symbol whose fetch fails in a cycle is skipped with its cursor
// untouched, so the next cycle retries it from the same watermark. A
// symbol seen for the first time only establishes its watermark; its
// backlog is not replayed as a burst of deltas.
type Detector struct {
	log      *logger.Logger
	market   store.MarketReader
	composer *Composer
	pub      Publisher
	cfg      Config

	cursors map[string]time.Time

	mu          sync.Mutex
	lastCycle   time.Time
	lastErr     error
	failedCount int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewDetector creates the change detector.
func NewDetector(log *logger.Logger, market store.MarketReader, composer *Composer, pub Publisher, cfg Config) *Detector {
	cfg.ApplyDefaults()
	return &Detector{
		log:      log.WithComponent("poller.detector"),
		market:   market,
		composer: composer,
		pub:      pub,
		cfg:      cfg,
		cursors:  make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name implements component.Component.
func (d *Detector) Name() string { return "poller" }

// Start launches the poll loop. The first cycle runs immediately so a
// fresh instance establishes its watermarks without waiting a full
// interval.
func (d *Detector) Start(ctx context.Context) error {
	go d.run()
	d.log.Info("change detector started", logger.Fields(
		"poll_interval_ms", d.cfg.PollIntervalMS,
		"fetch_timeout_ms", d.cfg.FetchTimeoutMS,
	))
	return nil
}

// Stop terminates the poll loop and waits for the in-flight cycle.
func (d *Detector) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stop) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health implements component.Component. The detector reports degraded
// when the most recent cycle had failed partitions, and unhealthy when
// the cycle itself could not run.
func (d *Detector) Health(ctx context.Context) component.Health {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := component.Health{Name: d.Name(), Status: component.StatusHealthy}
	switch {
	case d.lastErr != nil:
		h.Status = component.StatusUnhealthy
		h.Message = d.lastErr.Error()
	case d.failedCount > 0:
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("%d partitions failed in last cycle", d.failedCount)
	case !d.lastCycle.IsZero():
		h.Message = fmt.Sprintf("last cycle %s ago", time.Since(d.lastCycle).Round(time.Millisecond))
	}
	return h
}

func (d *Detector) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	d.cycle()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.cycle()
		}
	}
}

// cycle runs one detection pass over every known symbol.
func (d *Detector) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FetchTimeout())
	symbols, err := d.market.Symbols(ctx)
	cancel()
	if err != nil {
		d.log.Error("cycle failed to list symbols", logger.ErrorFields("symbols", err))
		d.setStatus(err, 0)
		return
	}

	failed := 0
	published := 0
	for _, symbol := range symbols {
		n, err := d.pollSymbol(symbol)
		if err != nil {
			failed++
			d.log.Warn("partition fetch failed, will retry next cycle", logger.Fields(
				logger.FieldPartition, symbol,
				logger.FieldError, err.Error(),
			))
			continue
		}
		published += n
	}

	d.setStatus(nil, failed)
	if published > 0 || failed > 0 {
		d.log.Debug("cycle complete", logger.Fields(
			"symbols", len(symbols),
			"published", published,
			"failed", failed,
		))
	}
}

// pollSymbol fetches one symbol's new quotes under the per-fetch
// timeout and publishes a delta for each. It returns the number of
// published envelopes.
func (d *Detector) pollSymbol(symbol string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FetchTimeout())
	defer cancel()

	cursor, seen := d.cursors[symbol]
	quotes, err := d.market.QuotesSince(ctx, symbol, cursor)
	if err != nil {
		return 0, errors.PartitionFetch(symbol, err)
	}
	if len(quotes) == 0 {
		return 0, nil
	}

	// First sight of a symbol establishes the watermark without
	// replaying its backlog.
	if !seen {
		d.cursors[symbol] = quotes[len(quotes)-1].ObservedAt
		d.log.Info("tracking new partition", logger.Fields(
			logger.FieldPartition, symbol,
			"watermark", quotes[len(quotes)-1].ObservedAt,
		))
		return 0, nil
	}

	for _, q := range quotes {
		d.pub.Publish(ctx, d.composer.Compose(q))
	}
	d.cursors[symbol] = quotes[len(quotes)-1].ObservedAt
	return len(quotes), nil
}

func (d *Detector) setStatus(err error, failed int) {
	d.mu.Lock()
	d.lastCycle = time.Now()
	d.lastErr = err
	d.failedCount = failed
	d.mu.Unlock()
}
