// Package metrics defines the Prometheus collectors exported by the bhopmaps
// server. Collectors register with the default registry on package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bhopmaps"

// ObjectStoreDuration measures single object store calls.
// Labels:
//   - op: "put", "put_image", "presign", "head", "delete", "list"
//   - result: "ok" or "error"
var ObjectStoreDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "object_store_operation_duration_seconds",
		Help:      "Duration of object store calls.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"op", "result"},
)

// OrphansScheduledTotal counts object keys handed to the janitor.
var OrphansScheduledTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_scheduled_total",
		Help:      "Total number of orphaned object keys scheduled for cleanup.",
	},
)

// OrphanCleanupTotal counts cleanup attempts.
// Label:
//   - result: "deleted", "missing" or "requeued"
var OrphanCleanupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphan_cleanup_total",
		Help:      "Total number of orphan cleanup attempts, by result.",
	},
	[]string{"result"},
)

// MapUploadsTotal counts upload attempts.
// Label:
//   - result: "ok" or the failing stage ("validation", "store", "metadata")
var MapUploadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "map_uploads_total",
		Help:      "Total number of map uploads, by result.",
	},
	[]string{"result"},
)

// MapDownloadsTotal counts issued download links.
var MapDownloadsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "map_downloads_total",
		Help:      "Total number of signed download links issued.",
	},
)

// HTTPRequestDuration measures HTTP handlers.
// Labels:
//   - method: HTTP method
//   - route: the registered route path, e.g. "/api/map/:id"
//   - code: response status code
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "code"},
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
