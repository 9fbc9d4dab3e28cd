package taxyear

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freelance-manager/freelance-api/internal/shared"
)

var testZones = []*time.Location{
	time.UTC,
	time.FixedZone("UTC+10", 10*60*60),
	time.FixedZone("UTC-8", -8*60*60),
	time.FixedZone("UTC+5:45", 5*60*60+45*60),
}

func utcDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSpecifiedIndependentOfZone(t *testing.T) {
	for _, loc := range testZones {
		calc := MustCalculator(DefaultRule, loc)
		w := calc.Specified(2015)
		require.Equal(t, utcDate(2015, time.April, 6), w.Start, loc.String())
		require.Equal(t, utcDate(2016, time.April, 5), w.End, loc.String())
		require.Equal(t, "2015-2016", w.Label())
	}
}

func TestCurrentWindowBeforeAndAfterStart(t *testing.T) {
	calc := MustCalculator(DefaultRule, time.UTC)

	after := calc.Current(time.Date(2024, time.May, 1, 15, 0, 0, 0, time.UTC))
	require.Equal(t, utcDate(2024, time.April, 6), after.Start)
	require.Equal(t, utcDate(2025, time.April, 5), after.End)

	before := calc.Current(time.Date(2024, time.February, 10, 9, 0, 0, 0, time.UTC))
	require.Equal(t, utcDate(2023, time.April, 6), before.Start)
	require.Equal(t, utcDate(2024, time.April, 5), before.End)

	// Same month as the start, earlier day.
	early := calc.Current(time.Date(2024, time.April, 5, 23, 59, 59, 0, time.UTC))
	require.Equal(t, utcDate(2023, time.April, 6), early.Start)

	// A later month with a day number below the start day still counts as after.
	late := calc.Current(time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, utcDate(2024, time.April, 6), late.Start)
}

func TestCurrentBoundaryInstantBelongsToNewYear(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	calc := MustCalculator(DefaultRule, loc)

	boundary := time.Date(2024, time.April, 6, 0, 0, 0, 0, loc)
	w := calc.Current(boundary)
	require.Equal(t, utcDate(2024, time.April, 6), w.Start)

	justBefore := calc.Current(boundary.Add(-time.Nanosecond))
	require.Equal(t, utcDate(2023, time.April, 6), justBefore.Start)
}

func TestCurrentReadsWallClockInLocation(t *testing.T) {
	// 2024-04-05T23:30Z is already 6 April in UTC+10.
	instant := time.Date(2024, time.April, 5, 23, 30, 0, 0, time.UTC)

	east := MustCalculator(DefaultRule, time.FixedZone("UTC+10", 10*60*60)).Current(instant)
	require.Equal(t, utcDate(2024, time.April, 6), east.Start)

	utc := MustCalculator(DefaultRule, time.UTC).Current(instant)
	require.Equal(t, utcDate(2023, time.April, 6), utc.Start)
}

func TestWindowInvariants(t *testing.T) {
	start := time.Date(2019, time.January, 1, 12, 0, 0, 0, time.UTC)
	for _, loc := range testZones {
		calc := MustCalculator(DefaultRule, loc)
		for d := 0; d < 3*366; d += 17 {
			now := start.AddDate(0, 0, d)
			cur := calc.Current(now)
			require.True(t, cur.Start.Before(cur.End))
			days := cur.Duration().Hours() / 24
			require.True(t, days == 364 || days == 365, "unexpected length %v", days)

			// Repeated calls are identical.
			require.Equal(t, cur, calc.Current(now))

			prev := calc.Previous(now)
			require.Equal(t, cur.Start.AddDate(-1, 0, 0), prev.Start)
			require.Equal(t, cur.End.AddDate(-1, 0, 0), prev.End)
			require.Equal(t, prev, calc.Previous(now))
		}
	}
}

func TestWindowLengthInvariantAcrossZones(t *testing.T) {
	now := time.Date(2022, time.August, 20, 8, 0, 0, 0, time.UTC)
	var lengths []time.Duration
	for _, loc := range testZones {
		lengths = append(lengths, MustCalculator(DefaultRule, loc).Current(now).Duration())
	}
	for _, l := range lengths[1:] {
		require.Equal(t, lengths[0], l)
	}
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	w := MustCalculator(DefaultRule, time.UTC).Specified(2020)
	require.True(t, w.Contains(w.Start))
	require.False(t, w.Contains(w.End))
	require.True(t, w.Contains(w.End.Add(-time.Second)))
	require.False(t, w.Contains(w.Start.Add(-time.Second)))
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, DefaultRule.Validate())
	require.NoError(t, Rule{StartMonth: time.February, StartDay: 29, EndMonth: time.February, EndDay: 28}.Validate())
	require.Error(t, Rule{StartMonth: 13, StartDay: 1, EndMonth: 1, EndDay: 1}.Validate())
	require.Error(t, Rule{StartMonth: time.April, StartDay: 31, EndMonth: time.April, EndDay: 5}.Validate())

	_, err := NewCalculator(Rule{}, nil)
	require.Error(t, err)
}

func TestParseYear(t *testing.T) {
	year, err := ParseYear(" 2015 ")
	require.NoError(t, err)
	require.Equal(t, 2015, year)

	for _, raw := range []string{"", "abc", "15x", "99999", "-1"} {
		_, err := ParseYear(raw)
		require.ErrorIs(t, err, shared.ErrValidation, raw)
	}
}

func TestNormalizeKeepsWallClock(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	got := Normalize(time.Date(2021, time.March, 3, 0, 0, 0, 0, loc))
	require.Equal(t, utcDate(2021, time.March, 3), got)
	require.Equal(t, time.UTC, got.Location())
}
