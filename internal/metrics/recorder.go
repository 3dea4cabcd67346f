// Package metrics owns the hub's Prometheus registry.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// CategoryFallback labels request durations answered by the fallback.
const CategoryFallback = "fallback"

// Recorder holds every metric the hub exports. One Recorder is created per
// process and passed by pointer to the components that record.
type Recorder struct {
	reg     *prometheus.Registry
	runtime *prometheus.Registry

	skillCalls          *prometheus.CounterVec
	skillFailures       *prometheus.CounterVec
	fallbackCalls       prometheus.Counter
	fallbackUnavailable *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	breakerRejections   *prometheus.CounterVec
	breakerTransitions  *prometheus.CounterVec

	openCircuits atomic.Pointer[func() int]

	logger *zap.Logger
}

// NewRecorder creates a Recorder with its own registry. Go runtime and
// process collectors live on a separate registry so Snapshot only reports
// hub metrics.
func NewRecorder(logger *zap.Logger) *Recorder {
	r := &Recorder{
		reg:     prometheus.NewRegistry(),
		runtime: prometheus.NewRegistry(),
		logger:  logger.With(zap.String("component", "metrics")),
	}
	r.runtime.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(r.reg)
	r.skillCalls = f.NewCounterVec(prometheus.CounterOpts{
		Name: "skill_calls_total",
		Help: "Skill handler invocations",
	}, []string{"skill"})
	r.skillFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "skill_failures_total",
		Help: "Skill handler invocations that failed or timed out",
	}, []string{"skill"})
	r.fallbackCalls = f.NewCounter(prometheus.CounterOpts{
		Name: "fallback_calls_total",
		Help: "Requests sent to the fallback language model",
	})
	r.fallbackUnavailable = f.NewCounterVec(prometheus.CounterOpts{
		Name: "fallback_unavailable_total",
		Help: "Fallback calls that produced no answer",
	}, []string{"reason"})
	r.requestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "End-to-end request duration",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"category"})
	r.breakerRejections = f.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_rejections_total",
		Help: "Requests rejected by an open circuit",
	}, []string{"skill"})
	r.breakerTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_transitions_total",
		Help: "Circuit phase changes",
	}, []string{"skill", "from", "to"})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "breaker_open_circuits",
		Help: "Circuits currently open or half-open",
	}, func() float64 {
		if fn := r.openCircuits.Load(); fn != nil {
			return float64((*fn)())
		}
		return 0
	})
	return r
}

func (r *Recorder) SkillCall(skill string)    { r.skillCalls.WithLabelValues(skill).Inc() }
func (r *Recorder) SkillFailure(skill string) { r.skillFailures.WithLabelValues(skill).Inc() }
func (r *Recorder) FallbackCall()             { r.fallbackCalls.Inc() }

// FallbackUnavailable counts a fallback call that ended without an answer.
func (r *Recorder) FallbackUnavailable(reason string) {
	r.fallbackUnavailable.WithLabelValues(reason).Inc()
}

// BreakerRejection counts a request short-circuited by an open breaker.
func (r *Recorder) BreakerRejection(skill string) {
	r.breakerRejections.WithLabelValues(skill).Inc()
}

// BreakerTransition counts a phase change.
func (r *Recorder) BreakerTransition(skill, from, to string) {
	r.breakerTransitions.WithLabelValues(skill, from, to).Inc()
}

// ObserveRequest records a request duration under category, which is a
// skill name or CategoryFallback.
func (r *Recorder) ObserveRequest(category string, d time.Duration) {
	r.requestDuration.WithLabelValues(category).Observe(d.Seconds())
}

// TrackOpenCircuits sets the source of the breaker_open_circuits gauge.
func (r *Recorder) TrackOpenCircuits(fn func() int) {
	r.openCircuits.Store(&fn)
}

// Registry exposes the hub registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves hub and runtime metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{r.reg, r.runtime}, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(r.logger),
	})
}

// Snapshot gathers the hub registry into a flat map keyed by metric name
// and labels, e.g. `skill_calls_total{skill="device_control"}`. Histograms
// contribute `_count` and `_sum` entries.
func (r *Recorder) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := r.reg.Gather()
	if err != nil {
		r.logger.Warn("gather metrics", zap.Error(err))
	}
	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			labels := labelString(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name+labels] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name+labels] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out[name+"_count"+labels] = float64(h.GetSampleCount())
				out[name+"_sum"+labels] = h.GetSampleSum()
			case dto.MetricType_UNTYPED:
				out[name+labels] = m.GetUntyped().GetValue()
			}
		}
	}
	return out
}

func labelString(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.GetName() + `="` + p.GetValue() + `"`
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
