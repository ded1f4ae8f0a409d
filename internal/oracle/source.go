package oracle

import (
	"fmt"
	"math/big"
	"sync"
)

// Sample is a cumulative price observation: Cumulative is the integral of the
// spot price (venue precision) over seconds up to Timestamp. Two samples divided by
// their elapsed time give a time-weighted average.
type Sample struct {
	Timestamp  int64
	Cumulative *big.Int
}

// PriceSource is the external venue collaborator. Observe returns cumulative
// samples at the requested unix-second timestamps; LastUpdated reports the
// freshest underlying observation so callers can enforce staleness bounds.
type PriceSource interface {
	Observe(timestamps []int64) ([]Sample, error)
	LastUpdated() int64
}

// Accumulator integrates spot price ticks into cumulative observations and
// serves them as a PriceSource. Ticks arrive from the market venue (via the
// ingestion layer) in the venue's own decimal precision.
type Accumulator struct {
	mu       sync.RWMutex
	obs      []spotObs
	maxObs   int
	lastTick int64
}

type spotObs struct {
	timestamp  int64
	price      int64
	cumulative *big.Int
}

// NewAccumulator creates an accumulator retaining at most maxObs ticks.
func NewAccumulator(maxObs int) *Accumulator {
	if maxObs <= 0 {
		maxObs = 4096
	}
	return &Accumulator{maxObs: maxObs}
}

// Record appends a spot tick. Out-of-order ticks are dropped: cumulative sums
// only make sense over a monotone timeline.
func (a *Accumulator) Record(price int64, timestamp int64) error {
	if price <= 0 {
		return fmt.Errorf("non-positive price %d", price)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.obs) > 0 {
		prev := a.obs[len(a.obs)-1]
		if timestamp <= prev.timestamp {
			return fmt.Errorf("tick at %d not after previous %d", timestamp, prev.timestamp)
		}
		elapsed := timestamp - prev.timestamp
		cum := new(big.Int).Mul(big.NewInt(prev.price), big.NewInt(elapsed))
		cum.Add(cum, prev.cumulative)
		a.obs = append(a.obs, spotObs{timestamp: timestamp, price: price, cumulative: cum})
	} else {
		a.obs = append(a.obs, spotObs{timestamp: timestamp, price: price, cumulative: new(big.Int)})
	}

	if len(a.obs) > a.maxObs {
		a.obs = a.obs[len(a.obs)-a.maxObs:]
	}
	a.lastTick = timestamp
	return nil
}

// Observe returns cumulative samples at the requested timestamps. A timestamp
// between two ticks is served by extending the preceding tick's price; one
// before the first retained tick is an error.
func (a *Accumulator) Observe(timestamps []int64) ([]Sample, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.obs) == 0 {
		return nil, fmt.Errorf("no observations recorded")
	}

	samples := make([]Sample, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts < a.obs[0].timestamp {
			return nil, fmt.Errorf("timestamp %d precedes retained history (oldest %d)", ts, a.obs[0].timestamp)
		}

		// Last tick at or before ts.
		idx := len(a.obs) - 1
		for idx > 0 && a.obs[idx].timestamp > ts {
			idx--
		}
		base := a.obs[idx]

		cum := new(big.Int).Mul(big.NewInt(base.price), big.NewInt(ts-base.timestamp))
		cum.Add(cum, base.cumulative)
		samples = append(samples, Sample{Timestamp: ts, Cumulative: cum})
	}

	return samples, nil
}

// LastUpdated returns the timestamp of the freshest tick, 0 when empty.
func (a *Accumulator) LastUpdated() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastTick
}
