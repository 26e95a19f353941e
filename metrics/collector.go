package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion-side metrics
	TicksObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_ticks_observed_total",
		Help: "Total number of live ticks observed from the upstream node",
	})

	RPCReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_rpc_reconnects_total",
		Help: "Total number of upstream WebSocket reconnects",
	})

	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qubic_explorer_rpc_requests_total",
		Help: "Total upstream RPC requests by method",
	}, []string{"method"})

	RPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qubic_explorer_rpc_errors_total",
		Help: "Total upstream RPC errors by method",
	}, []string{"method"})

	// Epoch lifecycle metrics
	EpochsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_epochs_finalized_total",
		Help: "Total number of epochs validated and finalized",
	})

	CriticalTransitionError = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qubic_explorer_epoch_transition_critical_error",
		Help: "Whether the epoch transition validator is latched in a critical error (1=yes)",
	})

	// Snapshot importer metrics
	SnapshotImports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qubic_explorer_snapshot_imports_total",
		Help: "Total number of completed snapshot archive imports by kind",
	}, []string{"kind"})

	SnapshotImportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qubic_explorer_snapshot_import_duration_seconds",
		Help:    "Time taken to download and import a snapshot archive",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind"})

	// Analytics metrics
	SnapshotRowsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qubic_explorer_analytics_rows_emitted_total",
		Help: "Total number of analytics snapshot rows emitted by kind",
	}, []string{"kind"})

	// Flow tracker metrics
	FlowTransfersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_flow_transfers_processed_total",
		Help: "Total number of outbound transfers processed by the flow tracker",
	})

	FlowHopsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_flow_hops_written_total",
		Help: "Total number of flow hop rows written",
	})

	// Push metrics
	PushesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_pushes_sent_total",
		Help: "Total number of web-push notifications sent",
	})

	PushesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_pushes_failed_total",
		Help: "Total number of web-push notification failures",
	})

	SubscriptionsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qubic_explorer_push_subscriptions_removed_total",
		Help: "Total number of push subscriptions removed after gone endpoints",
	})
)
