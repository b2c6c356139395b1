package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDateRange(t *testing.T) {
	r, err := NewDateRange("2024-05-01", "2024-05-03")
	require.NoError(t, err)
	require.True(t, r.Contains(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, r.Contains(time.Date(2024, 5, 3, 23, 59, 0, 0, time.UTC)))
	require.False(t, r.Contains(time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2024-05-01..2024-05-03", r.String())

	_, err = NewDateRange("2024-05-03", "2024-05-01")
	require.Error(t, err)

	_, err = NewDateRange("05/01/2024", "2024-05-03")
	require.Error(t, err)
}

func TestParseDateTruncatesTimestamps(t *testing.T) {
	d, err := ParseDate("2024-05-01T23:30:00.0")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), d)
}

func TestTemplateHasExercise(t *testing.T) {
	tmpl := WorkoutTemplate{ExerciseIDs: []string{"a", "b"}}
	require.True(t, tmpl.HasExercise("b"))
	require.False(t, tmpl.HasExercise("c"))
}
