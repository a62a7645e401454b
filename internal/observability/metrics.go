package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestImages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "ingest_images_total",
		Help:      "Source images that finished their model loop",
	}, []string{"source"})

	IngestUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "ingest_units_total",
		Help:      "Image/model extraction units by outcome",
	}, []string{"model", "status"})

	FacesStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "faces_stored_total",
		Help:      "Face records inserted into the catalog",
	}, []string{"model"})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "extraction_duration_seconds",
		Help:      "Duration of face extraction per image and model",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"backend", "model"})

	SimilarityQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "similarity_query_duration_seconds",
		Help:      "Duration of nearest-neighbour queries",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"model", "metric"})

	PreviewLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "preview_lookups_total",
		Help:      "Preview derivations by cache result",
	}, []string{"result"})

	IngestRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefinder",
		Name:      "ingest_running",
		Help:      "1 while an ingestion run is in progress",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefinder",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
