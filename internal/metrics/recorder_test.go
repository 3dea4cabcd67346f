package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	r.SkillCall("device_control")
	r.SkillCall("device_control")
	r.SkillFailure("device_control")
	r.FallbackCall()
	r.FallbackUnavailable("not_configured")
	r.BreakerRejection("device_control")
	r.BreakerTransition("device_control", "closed", "open")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.skillCalls.WithLabelValues("device_control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.skillFailures.WithLabelValues("device_control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbackCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbackUnavailable.WithLabelValues("not_configured")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breakerRejections.WithLabelValues("device_control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breakerTransitions.WithLabelValues("device_control", "closed", "open")))
}

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	open := 2
	r.TrackOpenCircuits(func() int { return open })
	r.SkillCall("information_request")
	r.ObserveRequest("information_request", 120*time.Millisecond)
	r.ObserveRequest(CategoryFallback, time.Second)

	snap := r.Snapshot()
	assert.Equal(t, 1.0, snap[`skill_calls_total{skill="information_request"}`])
	assert.Equal(t, 1.0, snap[`request_duration_seconds_count{category="information_request"}`])
	assert.InDelta(t, 1.0, snap[`request_duration_seconds_sum{category="fallback"}`], 1e-9)
	assert.Equal(t, 2.0, snap["breaker_open_circuits"])
	assert.Equal(t, 0.0, snap["fallback_calls_total"])

	for k := range snap {
		assert.False(t, strings.HasPrefix(k, "go_"), "runtime metric %s leaked into snapshot", k)
	}

	snap["fallback_calls_total"] = 99
	assert.Equal(t, 0.0, r.Snapshot()["fallback_calls_total"], "snapshot must be a copy")
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	r.SkillCall("device_control")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.Contains(t, text, `skill_calls_total{skill="device_control"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestRecordersAreIndependent(t *testing.T) {
	a := NewRecorder(zap.NewNop())
	b := NewRecorder(zap.NewNop())
	a.FallbackCall()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.fallbackCalls))
}
