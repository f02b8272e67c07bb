package perf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewRoundStats tests the aggregation of benchmark rounds
func TestNewRoundStats(t *testing.T) {
	require.Equal(t, roundStats{}, newRoundStats(nil))

	s := newRoundStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.Equal(t, 2.0, s.Min)
	require.Equal(t, 9.0, s.Max)
	require.Equal(t, 5.0, s.Mean)
	require.InDelta(t, 2.0, s.StdDeviation, 1e-9)
}
