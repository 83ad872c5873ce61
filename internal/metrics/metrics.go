// Package metrics holds the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts finished sync passes by terminal status.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telvault_sync_runs_total",
		Help: "Finished sync runs by terminal status.",
	}, []string{"status"})

	// MessagesSynced counts messages seen across all sync passes.
	MessagesSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telvault_messages_synced_total",
		Help: "Messages fetched and upserted during sync passes.",
	})

	// MessagesDeleted counts messages marked deleted by reconciliation.
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telvault_messages_deleted_total",
		Help: "Messages marked deleted by reconciliation passes.",
	})

	// AttachmentsFetched counts successful attachment downloads.
	AttachmentsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telvault_attachments_fetched_total",
		Help: "Attachments downloaded into the media tree.",
	})

	// ActiveTask is 1 while a sync task is pending or running.
	ActiveTask = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telvault_active_task",
		Help: "Whether a sync task is currently pending or running.",
	})
)
