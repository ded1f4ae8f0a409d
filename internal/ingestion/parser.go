package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PriceTick is one spot observation from a market venue: the rate of an
// asset against the unit of account, in the venue's own decimal precision.
type PriceTick struct {
	Asset     string
	Rate      int64
	Sequence  int64
	Timestamp time.Time
}

// Wire format on lend.prices.<asset>. Field names use snake_case to match
// upstream producers.
type priceTickJSON struct {
	Asset       string `json:"asset"`
	Rate        int64  `json:"rate"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceTick converts a raw NATS tick into a PriceTick. The asset comes
// from the payload; if absent, it falls back to the subject suffix.
func ParsePriceTick(raw RawTick) (PriceTick, error) {
	var j priceTickJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return PriceTick{}, fmt.Errorf("parse price tick: %w", err)
	}

	asset := j.Asset
	if asset == "" {
		asset = assetFromSubject(raw.Subject)
	}
	if asset == "" {
		return PriceTick{}, fmt.Errorf("price tick without asset (subject %s)", raw.Subject)
	}
	if j.Rate <= 0 {
		return PriceTick{}, fmt.Errorf("non-positive rate %d for %s", j.Rate, asset)
	}
	if j.TimestampUs <= 0 {
		return PriceTick{}, fmt.Errorf("missing timestamp for %s", asset)
	}

	return PriceTick{
		Asset:     asset,
		Rate:      j.Rate,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

// assetFromSubject extracts the asset from lend.prices.<asset>.
func assetFromSubject(subject string) string {
	if !strings.HasPrefix(subject, PriceSubjectPrefix+".") {
		return ""
	}
	return subject[len(PriceSubjectPrefix)+1:]
}
