package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTimeAxis(t *testing.T) {
	axis, err := BuildTimeAxis(5, 1000)
	require.NoError(t, err)
	require.Equal(t, 5, axis.Len())
	assert.Equal(t, 0.0, axis.Values[0])
	assert.Equal(t, 0.005, axis.Values[4], "linspace includes n/fs")
	assert.InDelta(t, 0.00125, axis.Values[1], 1e-15)
	assert.Equal(t, 0.005, axis.Duration())

	for i := 1; i < axis.Len(); i++ {
		assert.Greater(t, axis.Values[i], axis.Values[i-1])
	}
}

func TestBuildTimeAxisEdgeCases(t *testing.T) {
	axis, err := BuildTimeAxis(1, 1000)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, axis.Values)

	axis, err = BuildTimeAxis(0, 1000)
	require.NoError(t, err)
	assert.Zero(t, axis.Len())
	assert.Zero(t, axis.Duration())

	_, err = BuildTimeAxis(-1, 1000)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = BuildTimeAxis(10, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
