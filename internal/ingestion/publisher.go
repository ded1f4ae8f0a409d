package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/observability"
)

// OperationPublisher forwards committed operation records to NATS for
// downstream consumers (risk dashboards, liquidation bots). Subjects follow
// lend.ops.<kind>. Publishing is best-effort: a failure is logged, never
// retried, because consumers can always read the operation log directly.
type OperationPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Record
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewOperationPublisher(js jetstream.JetStream, inputChan <-chan engine.Record, metrics *observability.Metrics, log zerolog.Logger) *OperationPublisher {
	return &OperationPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run starts the publisher loop.
func (p *OperationPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, rec); err != nil {
				p.log.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.PublishedEvents.Inc()
			}
		}
	}
}

func (p *OperationPublisher) publish(ctx context.Context, rec engine.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", OperationSubjectPrefix, rec.Kind)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
