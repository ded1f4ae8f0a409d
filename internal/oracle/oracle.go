package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"LendLedger/internal/fixedpoint"
)

var (
	// ErrOracleNotConfigured means no price source is registered for the asset.
	ErrOracleNotConfigured = errors.New("oracle not configured for asset")

	// ErrPriceStale means the freshest observation is older than the allowed age.
	ErrPriceStale = errors.New("price observation too stale")
)

const (
	// DefaultWindow is the TWAP lookback window.
	DefaultWindow = 3600 * time.Second

	// DefaultMaxAge bounds how old the freshest observation may be.
	DefaultMaxAge = 3600 * time.Second
)

// SourceBand clamps the TWAP result to [MinRate, MaxRate] (both RATE-scaled)
// to bound the influence of a single manipulated sample. A zero band disables
// clamping on that side.
type SourceBand struct {
	MinRate int64
	MaxRate int64
}

// SourceConfig describes a registered price source. PriceDecimals is the
// decimal precision the venue quotes in; the oracle normalizes the TWAP from
// that precision to the RATE scale before clamping.
type SourceConfig struct {
	Band          SourceBand
	PriceDecimals int
}

// Config tunes the oracle. Now is injectable for deterministic tests and
// defaults to time.Now.
type Config struct {
	Window time.Duration
	MaxAge time.Duration
	Now    func() time.Time
}

type sourceEntry struct {
	source PriceSource
	cfg    SourceConfig
}

// Oracle resolves the time-weighted average exchange rate of an asset against
// the loan-asset unit of account. Rates are RATE-scaled (1e9) loan units per
// whole unit of the asset.
type Oracle struct {
	mu      sync.RWMutex
	sources map[string]sourceEntry
	window  time.Duration
	maxAge  time.Duration
	now     func() time.Time
}

func New(cfg Config) *Oracle {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Oracle{
		sources: make(map[string]sourceEntry),
		window:  cfg.Window,
		maxAge:  cfg.MaxAge,
		now:     cfg.Now,
	}
}

// Register attaches a price source for an asset. Re-registering replaces the
// previous source.
func (o *Oracle) Register(asset string, source PriceSource, cfg SourceConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[asset] = sourceEntry{source: source, cfg: cfg}
}

// Price returns the TWAP rate for the asset using the default max age.
func (o *Oracle) Price(asset string) (int64, error) {
	return o.PriceWithMaxAge(asset, o.maxAge)
}

// PriceWithMaxAge computes the TWAP over the configured window from two
// cumulative observations (now and now-window) and clamps the result to the
// registered band.
func (o *Oracle) PriceWithMaxAge(asset string, maxAge time.Duration) (int64, error) {
	o.mu.RLock()
	entry, ok := o.sources[asset]
	window := o.window
	nowFn := o.now
	o.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrOracleNotConfigured, asset)
	}

	now := nowFn().Unix()

	last := entry.source.LastUpdated()
	if last == 0 || now-last > int64(maxAge/time.Second) {
		return 0, fmt.Errorf("%w: %s last updated %d, now %d", ErrPriceStale, asset, last, now)
	}

	then := now - int64(window/time.Second)
	samples, err := entry.source.Observe([]int64{then, now})
	if err != nil {
		return 0, fmt.Errorf("observe %s: %w", asset, err)
	}
	if len(samples) != 2 {
		return 0, fmt.Errorf("observe %s: expected 2 samples, got %d", asset, len(samples))
	}

	elapsed := samples[1].Timestamp - samples[0].Timestamp
	if elapsed <= 0 {
		return 0, fmt.Errorf("observe %s: non-positive window", asset)
	}

	delta := new(big.Int).Sub(samples[1].Cumulative, samples[0].Cumulative)
	delta.Quo(delta, big.NewInt(elapsed))
	rate := delta.Int64()

	// Venue precision → unit-of-account precision.
	if entry.cfg.PriceDecimals != fixedpoint.RateDecimals {
		rate = fixedpoint.Rescale(rate, entry.cfg.PriceDecimals, fixedpoint.RateDecimals, fixedpoint.RoundDown)
	}

	return clampRate(rate, entry.cfg.Band), nil
}

func clampRate(rate int64, band SourceBand) int64 {
	if band.MinRate > 0 && rate < band.MinRate {
		return band.MinRate
	}
	if band.MaxRate > 0 && rate > band.MaxRate {
		return band.MaxRate
	}
	return rate
}
