package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfcast_provider_calls_total",
			Help: "Total weather provider API calls",
		},
		[]string{"endpoint", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surfcast_provider_latency_seconds",
			Help:    "Weather provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfcast_cache_requests_total",
			Help: "Cache lookups by result (hit, miss, expired)",
		},
		[]string{"result"},
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfcast_cache_writes_total",
			Help: "Cache writes by result",
		},
		[]string{"result"},
	)

	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfcast_refresh_cycles_total",
			Help: "Refresh cycles by outcome",
		},
		[]string{"result"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "surfcast_refresh_duration_seconds",
			Help:    "Duration of refresh cycles that reached the fetch stage",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	RefreshState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "surfcast_refresh_state",
			Help: "Current scheduler state (0 idle, 1 discovering, 2 fetching, 3 processing, 4 predicting, 5 persisting)",
		},
	)

	LatestDataTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "surfcast_latest_data_timestamp_seconds",
			Help: "Unix time of the newest observation used for a published forecast",
		},
	)

	ForecastRecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "surfcast_forecast_records_written_total",
			Help: "Total forecast rows written to the artifact",
		},
	)

	ParamStationsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "surfcast_param_stations_pruned_total",
			Help: "Parameter/station pairs removed after failing to return data",
		},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfcast_publish_errors_total",
			Help: "Failures publishing the forecast to an optional sink",
		},
		[]string{"sink"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfcast_notifications_sent_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)
)
