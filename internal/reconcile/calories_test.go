package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateCaloriesConservesTotal(t *testing.T) {
	alloc := AllocateCalories(347, []int{95, 40, 125})
	require.Len(t, alloc, 3)

	var sum float64
	for _, v := range alloc {
		sum += v
	}
	require.InDelta(t, 347, sum, 1e-9)
	require.InDelta(t, 347*95.0/260.0, alloc[0], 1e-9)
}

func TestAllocateCaloriesWithoutActiveTime(t *testing.T) {
	alloc := AllocateCalories(200, []int{0, 0})
	require.Equal(t, []float64{0, 0}, alloc)

	require.Empty(t, AllocateCalories(200, nil))
	require.Equal(t, []float64{0}, AllocateCalories(0, []int{60}))
}

func TestRoundCalories(t *testing.T) {
	require.Equal(t, 116.0, RoundCalories(115.66))
	require.Equal(t, 0.0, RoundCalories(0.4))
}
