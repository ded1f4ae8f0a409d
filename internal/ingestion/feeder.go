package ingestion

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
)

// Feeder drains raw price ticks, parses them, and records them into the
// per-asset oracle accumulators. Ticks are acked once recorded (or once
// rejected as invalid, so they don't loop through redelivery); only a
// shutdown mid-flight naks.
type Feeder struct {
	mu      sync.RWMutex
	sources map[string]*oracle.Accumulator

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewFeeder(metrics *observability.Metrics, log zerolog.Logger) *Feeder {
	return &Feeder{
		sources: make(map[string]*oracle.Accumulator),
		metrics: metrics,
		log:     log,
	}
}

// Register routes an asset's ticks into the given accumulator.
func (f *Feeder) Register(asset string, source *oracle.Accumulator) {
	f.mu.Lock()
	f.sources[asset] = source
	f.mu.Unlock()
}

// Run drains the tick channel until the context ends or the channel closes.
func (f *Feeder) Run(ctx context.Context, tickChan <-chan RawTick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-tickChan:
			if !ok {
				return nil
			}
			f.handle(raw)
		}
	}
}

func (f *Feeder) handle(raw RawTick) {
	tick, err := ParsePriceTick(raw)
	if err != nil {
		f.log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable price tick")
		f.rejectTick(assetFromSubject(raw.Subject), "parse")
		raw.AckFunc()
		return
	}

	f.mu.RLock()
	source, ok := f.sources[tick.Asset]
	f.mu.RUnlock()
	if !ok {
		f.log.Warn().Str("asset", tick.Asset).Msg("price tick for unregistered asset")
		f.rejectTick(tick.Asset, "unknown_asset")
		raw.AckFunc()
		return
	}

	if err := source.Record(tick.Rate, tick.Timestamp.Unix()); err != nil {
		// Out-of-order ticks are routine around venue reconnects.
		f.log.Debug().Err(err).Str("asset", tick.Asset).Msg("price tick dropped")
		f.rejectTick(tick.Asset, "out_of_order")
		raw.AckFunc()
		return
	}

	if f.metrics != nil {
		f.metrics.PriceTicksIngested.WithLabelValues(tick.Asset).Inc()
		f.metrics.OracleLastTick.WithLabelValues(tick.Asset).Set(float64(tick.Timestamp.Unix()))
	}
	raw.AckFunc()
}

func (f *Feeder) rejectTick(asset, reason string) {
	if f.metrics == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	f.metrics.PriceTickRejects.WithLabelValues(asset, reason).Inc()
}
