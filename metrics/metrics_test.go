package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_Outcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransform(reg)

	m.Outcome(OutcomeAccepted)
	m.Outcome(OutcomeAccepted)
	m.Outcome(OutcomeDeclined)
	m.Compiled(10*time.Millisecond, 128)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes().WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes().WithLabelValues(OutcomeDeclined)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Outcomes().WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.bytes))
}

func TestTransform_NilIsNoop(t *testing.T) {
	var m *Transform
	assert.NotPanics(t, func() {
		m.Outcome(OutcomeAccepted)
		m.Compiled(time.Second, 1)
	})
	assert.Nil(t, m.Outcomes())
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransform(reg)
	m.Outcome(OutcomeAccepted)

	path := filepath.Join(t.TempDir(), "grambuild.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `grambuild_transform_assets_total{outcome="accepted"} 1`)
}
