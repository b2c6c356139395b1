package units

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightRoundTrip(t *testing.T) {
	for _, kg := range []float64{0, 1, 20, 62.5, 102.06, 250} {
		lbs, err := FromKilograms(kg, Pounds)
		require.NoError(t, err)
		back, err := ToKilograms(lbs, Pounds)
		require.NoError(t, err)
		require.InDelta(t, kg, back, 0.01, "kg=%v", kg)
	}

	for _, lbs := range []float64{5, 45, 135, 315} {
		kg, err := ToKilograms(lbs, Pounds)
		require.NoError(t, err)
		back, err := FromKilograms(kg, Pounds)
		require.NoError(t, err)
		require.InDelta(t, lbs, back, 0.01, "lbs=%v", lbs)
	}
}

func TestDistanceAndVolumeConversions(t *testing.T) {
	km, err := ToKilometers(5000, Meters)
	require.NoError(t, err)
	require.InDelta(t, 5.0, km, 1e-9)

	km, err = ToKilometers(3.1, Miles)
	require.NoError(t, err)
	require.InDelta(t, 4.989, km, 0.001)

	miles, err := FromKilometers(km, Miles)
	require.NoError(t, err)
	require.InDelta(t, 3.1, miles, 0.01)

	ml, err := ToMilliliters(16, FluidOunces)
	require.NoError(t, err)
	require.InDelta(t, 473.18, ml, 0.01)

	oz, err := FromMilliliters(ml, FluidOunces)
	require.NoError(t, err)
	require.InDelta(t, 16, oz, 0.01)

	_, err = ToKilograms(1, WeightUnit("stone"))
	require.Error(t, err)
}

func TestNormalizerUsesPreferenceWhenUnitMissing(t *testing.T) {
	n := NewNormalizer(Pounds, Miles, FluidOunces)

	kg, err := n.WeightKg(100, "")
	require.NoError(t, err)
	require.Equal(t, 45.36, kg)

	kg, err = n.WeightKg(61000, "g")
	require.NoError(t, err)
	require.Equal(t, 61.0, kg)

	km, err := n.DistanceKm(1, "")
	require.NoError(t, err)
	require.InDelta(t, 1.609, km, 0.001)

	km, err = n.DistanceKm(12345, "meters")
	require.NoError(t, err)
	require.InDelta(t, 12.345, km, 0.001)

	ml, err := n.VolumeMl(250, "ml")
	require.NoError(t, err)
	require.Equal(t, 250.0, ml)

	_, err = n.WeightKg(1, "bushel")
	require.Error(t, err)
}

func TestNormalizerDefaultsToMetric(t *testing.T) {
	n := NewNormalizer("", "", "")
	require.Equal(t, Kilograms, n.WeightUnit())
	require.Equal(t, Kilometers, n.DistanceUnit())
	require.Equal(t, Milliliters, n.VolumeUnit())
}

func TestSecondsToMinutesAndRound(t *testing.T) {
	require.Equal(t, 1.5, SecondsToMinutes(90))
	require.Equal(t, 2.35, Round(2.346, 2))
	require.Equal(t, 3.0, Round(2.5, 0))
}
