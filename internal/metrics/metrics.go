package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionDuration   *prometheus.HistogramVec
	Dispositions      *prometheus.CounterVec
	DuplicateCleanups prometheus.Counter

	// Campaign metrics
	CampaignCalls *prometheus.GaugeVec
	Originations  *prometheus.CounterVec

	// Media metrics
	Recordings *prometheus.CounterVec
	IVRActions *prometheus.CounterVec

	// Event stream metrics
	EventsReceived *prometheus.CounterVec
)

// Init creates the registry and all dialer metrics. Record helpers are no-ops
// until Init has run.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		f := promauto.With(registry)

		ActiveSessions = f.NewGauge(prometheus.GaugeOpts{
			Name: "dialer_active_sessions",
			Help: "Call sessions currently tracked by the engine",
		})
		SessionDuration = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialer_session_duration_seconds",
			Help:    "Time from origination to cleanup",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"disposition"})
		Dispositions = f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_dispositions_total",
			Help: "Finished calls by disposition",
		}, []string{"campaign", "disposition"})
		DuplicateCleanups = f.NewCounter(prometheus.CounterOpts{
			Name: "dialer_duplicate_cleanups_total",
			Help: "Cleanup attempts suppressed because another path already ran it",
		})
		CampaignCalls = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dialer_campaign_current_calls",
			Help: "Slots in use per campaign",
		}, []string{"campaign"})
		Originations = f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_originations_total",
			Help: "Originate requests by result",
		}, []string{"campaign", "result"})
		Recordings = f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_recordings_total",
			Help: "Bridge recording operations by result",
		}, []string{"op", "result"})
		IVRActions = f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_ivr_actions_total",
			Help: "IVR actions executed by type",
		}, []string{"type"})
		EventsReceived = f.NewCounterVec(prometheus.CounterOpts{
			Name: "dialer_ari_events_total",
			Help: "ARI events received by type",
		}, []string{"type"})

		if logger != nil {
			logger.Info("Prometheus metrics initialized")
		}
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// RegisterHandler mounts /metrics on mux
func RegisterHandler(mux *http.ServeMux) {
	if registry == nil {
		return
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	}))
}

func enabled() bool { return registry != nil }

func SessionStarted() {
	if enabled() {
		ActiveSessions.Inc()
	}
}

// SessionEnded records a finished session
func SessionEnded(campaign, disposition string, age time.Duration) {
	if enabled() {
		ActiveSessions.Dec()
		SessionDuration.WithLabelValues(disposition).Observe(age.Seconds())
		Dispositions.WithLabelValues(campaign, disposition).Inc()
	}
}

func DuplicateCleanup() {
	if enabled() {
		DuplicateCleanups.Inc()
	}
}

func SetCampaignCalls(campaign string, n int) {
	if enabled() {
		CampaignCalls.WithLabelValues(campaign).Set(float64(n))
	}
}

func ForgetCampaign(campaign string) {
	if enabled() {
		CampaignCalls.DeleteLabelValues(campaign)
	}
}

func RecordOrigination(campaign string, err error) {
	if enabled() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		Originations.WithLabelValues(campaign, result).Inc()
	}
}

func RecordRecording(op string, err error) {
	if enabled() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		Recordings.WithLabelValues(op, result).Inc()
	}
}

func RecordIVRAction(actionType string) {
	if enabled() {
		IVRActions.WithLabelValues(actionType).Inc()
	}
}

func RecordEvent(eventType string) {
	if enabled() {
		EventsReceived.WithLabelValues(eventType).Inc()
	}
}
