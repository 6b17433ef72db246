package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tlsync_sync_passes_total",
		Help: "Completed TLINK sync passes by result.",
	}, []string{"result"})

	DevicesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tlsync_devices_stored_total",
		Help: "Device batches committed by the sync pipeline.",
	})

	ReadingsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tlsync_readings_stored_total",
		Help: "Sensor readings inserted (duplicates excluded).",
	})

	WebhookPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tlsync_webhook_pushes_total",
		Help: "Inbound webhook pushes by result.",
	}, []string{"result"})

	LogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tlsync_synclog_write_failures_total",
		Help: "Sync-log append failures (swallowed, surfaced here only).",
	})

	LogFilesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tlsync_synclog_files_pruned_total",
		Help: "Sync-log files removed by retention.",
	})

	TokenFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tlsync_oauth_token_fetches_total",
		Help: "OAuth token fetches against the TLINK token endpoint.",
	})
)

func RegisterRoutes(r *mux.Router) {
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}
