package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.FramePublished()
	m.FramePublished()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesPublished))

	done := m.ViewerConnected("mjpeg")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewersActive.WithLabelValues("mjpeg")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ViewersActive.WithLabelValues("mjpeg")))

	m.ArchiveFrame(ResultWritten)
	m.ArchiveFrame(ResultInvalid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveFrames.WithLabelValues(ResultInvalid)))

	m.Rotation(nil)
	m.Rotation(errors.New("disk full"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rotations.WithLabelValues("error")))
}

// nil の Metrics でも呼び出せる
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FramePublished()
		m.ViewerConnected("ws")()
		m.PartWritten()
		m.ArchiveFrame(ResultError)
		m.Rotation(nil)
		m.RetentionDelete(nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.FramePublished()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mirwatch_bus_frames_published_total"))
}
