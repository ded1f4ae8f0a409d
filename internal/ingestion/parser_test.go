package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"LendLedger/internal/ingestion"
)

func rawTick(t *testing.T, subject string, payload interface{}) ingestion.RawTick {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawTick{
		Subject:  subject,
		Data:     data,
		Received: time.Now(),
		AckFunc:  func() {},
		NakFunc:  func() {},
	}
}

func TestParsePriceTick(t *testing.T) {
	payload := map[string]interface{}{
		"asset":        "ETH",
		"rate":         int64(3_000_000_000_000),
		"sequence":     int64(42),
		"timestamp_us": int64(1_700_000_000_000_000),
	}

	tick, err := ingestion.ParsePriceTick(rawTick(t, "lend.prices.ETH", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if tick.Asset != "ETH" {
		t.Errorf("asset: got %s, want ETH", tick.Asset)
	}
	if tick.Rate != 3_000_000_000_000 {
		t.Errorf("rate: got %d", tick.Rate)
	}
	if tick.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", tick.Sequence)
	}
	if tick.Timestamp.UnixMicro() != 1_700_000_000_000_000 {
		t.Errorf("timestamp: got %d", tick.Timestamp.UnixMicro())
	}
}

func TestParsePriceTick_AssetFromSubject(t *testing.T) {
	payload := map[string]interface{}{
		"rate":         int64(1_000_000_000),
		"timestamp_us": int64(1_700_000_000_000_000),
	}

	tick, err := ingestion.ParsePriceTick(rawTick(t, "lend.prices.BTC", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tick.Asset != "BTC" {
		t.Errorf("asset from subject: got %s, want BTC", tick.Asset)
	}
}

func TestParsePriceTick_PayloadAssetWins(t *testing.T) {
	payload := map[string]interface{}{
		"asset":        "ETH",
		"rate":         int64(1_000_000_000),
		"timestamp_us": int64(1_700_000_000_000_000),
	}

	tick, err := ingestion.ParsePriceTick(rawTick(t, "lend.prices.BTC", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tick.Asset != "ETH" {
		t.Errorf("payload asset should win over subject: got %s", tick.Asset)
	}
}

func TestParsePriceTick_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		payload map[string]interface{}
	}{
		{
			"no asset anywhere",
			"other.subject",
			map[string]interface{}{"rate": int64(100), "timestamp_us": int64(1)},
		},
		{
			"zero rate",
			"lend.prices.ETH",
			map[string]interface{}{"rate": int64(0), "timestamp_us": int64(1)},
		},
		{
			"negative rate",
			"lend.prices.ETH",
			map[string]interface{}{"rate": int64(-5), "timestamp_us": int64(1)},
		},
		{
			"missing timestamp",
			"lend.prices.ETH",
			map[string]interface{}{"rate": int64(100)},
		},
	}

	for _, c := range cases {
		if _, err := ingestion.ParsePriceTick(rawTick(t, c.subject, c.payload)); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestParsePriceTick_MalformedJSON(t *testing.T) {
	raw := ingestion.RawTick{
		Subject: "lend.prices.ETH",
		Data:    []byte("{not json"),
	}
	if _, err := ingestion.ParsePriceTick(raw); err == nil {
		t.Error("malformed JSON should fail")
	}
}
