package store

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsTrackMutations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := openTestStore(t, archivePath(t), WithMetrics(m))
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1234"), true))
	require.NoError(t, s.Write("b", []byte("12"), true))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LiveObjects))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.LiveBytes))

	require.NoError(t, s.Delete("a"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveObjects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeletedObjects))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DeletedBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Compactions))
}

func TestMetricsTrackCompaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := openTestStore(t, archivePath(t), WithMetrics(m), WithCleanup(CleanupAlways, 0))
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1234"), true))
	require.NoError(t, s.Delete("a"))

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Compactions), 1.0)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ReclaimedBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeletedObjects))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeletedBytes))
}
