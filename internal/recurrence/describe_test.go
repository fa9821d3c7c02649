package recurrence

import (
	"testing"
	"time"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	until := time.Date(2026, time.December, 4, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		rule Rule
		want string
	}{
		{Rule{Pattern: PatternDaily, Daily: &DailyRule{EveryWeekday: true}}, "Every weekday"},
		{Rule{Pattern: PatternDaily, Daily: &DailyRule{Interval: 3}, EndAfter: 10}, "Every 3 days, 10 times"},
		{Rule{Pattern: PatternWeekly, Weekly: &WeeklyRule{Days: []time.Weekday{time.Sunday, time.Monday}}}, "Every week on Monday, Sunday"},
		{Rule{Pattern: PatternMonthly, Monthly: &MonthlyRule{Interval: 3, ByWeekday: true, Ordinal: OrdinalSecond, Weekday: time.Monday}}, "The 2nd Monday of every 3 months"},
		{Rule{Pattern: PatternMonthly, Monthly: &MonthlyRule{ByWeekday: true, Ordinal: OrdinalLast, Weekday: time.Friday}}, "The last Friday of every month"},
		{Rule{Pattern: PatternMonthly, Monthly: &MonthlyRule{Day: 15}, EndBy: &until}, "Day 15 of every month, until 4 Dec 2026"},
		{Rule{Pattern: PatternYearly, Yearly: &YearlyRule{Month: time.March, Day: 1}}, "Every year on 1 March"},
		{Rule{Pattern: PatternCustom, Custom: &CustomRule{Dates: []time.Time{until, until}}}, "On 2 selected dates"},
		{Rule{Pattern: PatternWeekly}, "Does not repeat"},
	}

	for _, tc := range cases {
		if got := Describe(tc.rule); got != tc.want {
			t.Errorf("Describe() = %q, want %q", got, tc.want)
		}
	}
}

func TestFormatOccurrence_MultiDay(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	got := FormatOccurrence(Occurrence{Start: start, End: start.Add(30 * time.Hour)})
	want := "Mon 2 Mar 2026, 9:00am - Tue 3 Mar 2026, 3:00pm"
	if got != want {
		t.Fatalf("FormatOccurrence() = %q, want %q", got, want)
	}
}
