package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	logger zerolog.Logger

	runsActive   prometheus.Gauge
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	phaseTotal   *prometheus.CounterVec
	phaseSeconds *prometheus.HistogramVec
	retryWait    *prometheus.HistogramVec

	trailersTotal *prometheus.CounterVec
	footageTotal  *prometheus.CounterVec
	eventsTotal   prometheus.Counter
}

// NewPrometheusSink creates collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer, logger zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger}
	s.initRunMetrics(reg)
	s.initArtifactMetrics(reg)
	return s
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shipyard_runs_active",
		Help: "Number of feature runs currently executing.",
	})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_runs_total",
		Help: "Finished feature runs by terminal status.",
	}, []string{"status"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipyard_run_duration_seconds",
		Help:    "Wall-clock duration of a feature run.",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})
	s.phaseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_phase_attempts_total",
		Help: "Phase attempts by phase and outcome.",
	}, []string{"phase", "outcome"})
	s.phaseSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shipyard_phase_duration_seconds",
		Help:    "Duration of a single phase attempt.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
	}, []string{"phase"})
	s.retryWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shipyard_retry_wait_seconds",
		Help:    "Backoff waited before retrying a phase.",
		Buckets: []float64{0, 1, 5, 15, 60, 300},
	}, []string{"phase"})

	s.register(reg, s.runsActive, "shipyard_runs_active")
	s.register(reg, s.runsTotal, "shipyard_runs_total")
	s.register(reg, s.runDuration, "shipyard_run_duration_seconds")
	s.register(reg, s.phaseTotal, "shipyard_phase_attempts_total")
	s.register(reg, s.phaseSeconds, "shipyard_phase_duration_seconds")
	s.register(reg, s.retryWait, "shipyard_retry_wait_seconds")
}

func (s *PrometheusSink) initArtifactMetrics(reg prometheus.Registerer) {
	s.trailersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_trailers_total",
		Help: "Trailer generations by outcome.",
	}, []string{"outcome"})
	s.footageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipyard_footage_captures_total",
		Help: "Footage capture attempts by result.",
	}, []string{"captured"})
	s.eventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shipyard_events_published_total",
		Help: "Lines published on the event bus.",
	})

	s.register(reg, s.trailersTotal, "shipyard_trailers_total")
	s.register(reg, s.footageTotal, "shipyard_footage_captures_total")
	s.register(reg, s.eventsTotal, "shipyard_events_published_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		s.logger.Warn().Err(err).Str("metric", name).Msg("metrics: failed to register collector")
	}
}

func (s *PrometheusSink) RunStarted() {
	s.runsActive.Inc()
}

func (s *PrometheusSink) RunFinished(status string, duration time.Duration) {
	s.runsActive.Dec()
	s.runsTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PhaseAttempt(phase, outcome string) {
	s.phaseTotal.WithLabelValues(phase, outcome).Inc()
}

func (s *PrometheusSink) PhaseDuration(phase string, duration time.Duration) {
	s.phaseSeconds.WithLabelValues(phase).Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryWait(phase string, wait time.Duration) {
	s.retryWait.WithLabelValues(phase).Observe(wait.Seconds())
}

func (s *PrometheusSink) TrailerOutcome(outcome string) {
	s.trailersTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) FootageCapture(captured bool) {
	s.footageTotal.WithLabelValues(strconv.FormatBool(captured)).Inc()
}

func (s *PrometheusSink) EventPublished() {
	s.eventsTotal.Inc()
}
