package oracle

import (
	"math/big"
	"time"
)

// Constant is a price source pinned to a fixed rate. It exists for the unit
// of account itself (which trades 1:1 against itself by definition) and for
// tests.
type Constant struct {
	rate int64
	now  func() time.Time
}

// NewConstant pins a source to rate (venue precision). now is injectable for
// deterministic tests and defaults to time.Now.
func NewConstant(rate int64, now func() time.Time) *Constant {
	if now == nil {
		now = time.Now
	}
	return &Constant{rate: rate, now: now}
}

// Observe synthesizes cumulative observations as rate * timestamp, so any
// window resolves back to the pinned rate.
func (c *Constant) Observe(timestamps []int64) ([]Sample, error) {
	samples := make([]Sample, len(timestamps))
	for i, ts := range timestamps {
		cum := new(big.Int).Mul(big.NewInt(c.rate), big.NewInt(ts))
		samples[i] = Sample{Timestamp: ts, Cumulative: cum}
	}
	return samples, nil
}

// LastUpdated reports the current time; a pinned rate is never stale.
func (c *Constant) LastUpdated() int64 {
	return c.now().Unix()
}
