package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thrivesend/internal/models"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestExpandWeeklyKeepsLocalTimeAcrossDST(t *testing.T) {
	ny := mustLoc(t, "America/New_York")

	// Mondays at 09:00 New York, starting before the 2025 spring-forward
	// (2025-03-09).
	rule := models.RecurrenceRule{
		Frequency:  models.FrequencyWeekly,
		DaysOfWeek: []time.Weekday{time.Monday},
		Timezone:   "America/New_York",
		StartAt:    time.Date(2025, 3, 3, 9, 0, 0, 0, ny),
	}

	windowStart := time.Date(2025, 3, 1, 0, 0, 0, 0, ny)
	windowEnd := time.Date(2025, 3, 29, 0, 0, 0, 0, ny)

	got, err := Expand(rule, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, got, 4)

	days := []int{3, 10, 17, 24}
	for i, occ := range got {
		local := occ.In(ny)
		assert.Equal(t, time.Monday, local.Weekday())
		assert.Equal(t, days[i], local.Day())
		assert.Equal(t, 9, local.Hour(), "occurrence %d drifted off 09:00 local", i)
		assert.Equal(t, 0, local.Minute())
	}

	// The UTC offset changes over the jump, the local hour does not.
	_, offBefore := got[0].In(ny).Zone()
	_, offAfter := got[3].In(ny).Zone()
	assert.NotEqual(t, offBefore, offAfter)
}

func TestExpandMonthlyClampsToShortMonths(t *testing.T) {
	utc := time.UTC
	rule := models.RecurrenceRule{
		Frequency: models.FrequencyMonthly,
		Timezone:  "UTC",
		StartAt:   time.Date(2025, 1, 31, 8, 0, 0, 0, utc),
	}

	got, err := Expand(rule,
		time.Date(2025, 1, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 5, 1, 0, 0, 0, 0, utc))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, 31, got[0].Day()) // January
	assert.Equal(t, 28, got[1].Day()) // February clamps
	assert.Equal(t, time.February, got[1].Month())
	assert.Equal(t, 31, got[2].Day()) // March
	assert.Equal(t, 30, got[3].Day()) // April clamps
	for _, occ := range got {
		assert.Equal(t, 8, occ.Hour())
	}
}

func TestExpandDailyRespectsWeekdayFilterAndEnd(t *testing.T) {
	utc := time.UTC
	end := time.Date(2025, 6, 10, 23, 59, 0, 0, utc)
	rule := models.RecurrenceRule{
		Frequency:  models.FrequencyDaily,
		DaysOfWeek: []time.Weekday{time.Tuesday, time.Thursday},
		Timezone:   "UTC",
		StartAt:    time.Date(2025, 6, 2, 12, 0, 0, 0, utc), // a Monday
		EndAt:      &end,
	}

	got, err := Expand(rule,
		time.Date(2025, 6, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 6, 30, 0, 0, 0, 0, utc))
	require.NoError(t, err)

	// Jun 3, 5, 10; Jun 12 is past EndAt.
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Day())
	assert.Equal(t, 5, got[1].Day())
	assert.Equal(t, 10, got[2].Day())
}

func TestExpandOneShot(t *testing.T) {
	utc := time.UTC
	at := time.Date(2025, 7, 4, 15, 0, 0, 0, utc)
	rule := models.RecurrenceRule{Timezone: "UTC", StartAt: at}

	got, err := Expand(rule,
		time.Date(2025, 7, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 8, 1, 0, 0, 0, 0, utc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(at))

	got, err = Expand(rule,
		time.Date(2025, 8, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 9, 1, 0, 0, 0, 0, utc))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpandRejectsBadInput(t *testing.T) {
	utc := time.UTC
	_, err := Expand(models.RecurrenceRule{Timezone: "Mars/Olympus"},
		time.Date(2025, 1, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 2, 1, 0, 0, 0, 0, utc))
	assert.Error(t, err)

	_, err = Expand(models.RecurrenceRule{Timezone: "UTC"},
		time.Date(2025, 2, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 1, 1, 0, 0, 0, 0, utc))
	assert.Error(t, err)
}

func TestExpandWeeklyDefaultsToStartWeekday(t *testing.T) {
	utc := time.UTC
	rule := models.RecurrenceRule{
		Frequency: models.FrequencyWeekly,
		Timezone:  "UTC",
		StartAt:   time.Date(2025, 6, 6, 10, 0, 0, 0, utc), // a Friday
	}

	got, err := Expand(rule,
		time.Date(2025, 6, 1, 0, 0, 0, 0, utc),
		time.Date(2025, 6, 22, 0, 0, 0, 0, utc))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, occ := range got {
		assert.Equal(t, time.Friday, occ.Weekday())
	}
}
