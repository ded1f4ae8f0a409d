package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendLedger.
type Metrics struct {
	// --- Engine operations ---
	OperationsApplied  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	EngineSequence     prometheus.Gauge

	// --- Reserves ---
	ReserveUtilization *prometheus.GaugeVec
	ReserveBorrowRate  *prometheus.GaugeVec
	ReserveLiquidity   *prometheus.GaugeVec
	ReserveBorrowed    *prometheus.GaugeVec

	// --- Liquidations ---
	LiquidationsExecuted *prometheus.CounterVec
	CollateralSeized     *prometheus.CounterVec

	// --- Oracle & ingestion ---
	PriceTicksIngested *prometheus.CounterVec
	PriceTickRejects   *prometheus.CounterVec
	OracleLastTick     *prometheus.GaugeVec

	// --- Persistence ---
	PersistOperationsWritten prometheus.Counter
	PersistErrors            *prometheus.CounterVec
	PersistBatchSize         prometheus.Histogram
	PersistLastSequence      prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Outbound publishing ---
	PublishedEvents prometheus.Counter
	PublishDrops    prometheus.Counter
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		OperationsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_engine_operations_applied_total",
			Help: "Operations applied by the lending engine, by kind.",
		}, []string{"kind"}),
		OperationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_engine_operations_rejected_total",
			Help: "Operations rejected by the lending engine, by kind and reason.",
		}, []string{"kind", "reason"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_engine_operation_duration_seconds",
			Help:    "Wall time spent applying an operation, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"kind"}),
		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_engine_sequence",
			Help: "Last operation sequence applied by the engine.",
		}),

		ReserveUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_utilization_ratio",
			Help: "Reserve utilization (borrowed/liquidity), per loan asset.",
		}, []string{"asset"}),
		ReserveBorrowRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_borrow_rate_annual",
			Help: "Annualized borrow rate, per loan asset.",
		}, []string{"asset"}),
		ReserveLiquidity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_total_liquidity",
			Help: "Total on-hand liquidity in base units, per loan asset.",
		}, []string{"asset"}),
		ReserveBorrowed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_total_borrowed",
			Help: "Total outstanding borrows in base units, per loan asset.",
		}, []string{"asset"}),

		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidations_executed_total",
			Help: "Successful liquidations, by borrow asset.",
		}, []string{"borrow_asset"}),
		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_collateral_seized_base_units_total",
			Help: "Collateral seized by liquidators in base units, per asset.",
		}, []string{"asset"}),

		PriceTicksIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_price_ticks_ingested_total",
			Help: "Price ticks accepted into the oracle accumulator, per asset.",
		}, []string{"asset"}),
		PriceTickRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_price_ticks_rejected_total",
			Help: "Price ticks dropped at ingestion, per asset and reason.",
		}, []string{"asset", "reason"}),
		OracleLastTick: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_oracle_last_tick_unix_seconds",
			Help: "Timestamp of the freshest recorded observation, per asset.",
		}, []string{"asset"}),

		PersistOperationsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_operations_written_total",
			Help: "Operation rows written to the operation log.",
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence failures, by stage.",
		}, []string{"stage"}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Rows per persisted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Highest operation sequence persisted.",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "State snapshots written.",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Time to capture and persist a snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Engine sequence of the latest snapshot.",
		}),

		PublishedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_published_events_total",
			Help: "Operation events published to JetStream.",
		}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Operation events dropped because the publish channel was full.",
		}),
	}
}
