package recurrence

import (
	"errors"
	"testing"
	"time"
)

var melbourne = time.FixedZone("AEDT", 11*60*60)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, melbourne)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, melbourne)
	return &t
}

func TestExpand_RejectsInvalidRules(t *testing.T) {
	t.Parallel()

	start := at(2026, time.March, 4, 9, 0)
	cases := []struct {
		name string
		rule Rule
		end  time.Time
	}{
		{name: "daily spanning two days", rule: Rule{Pattern: PatternDaily, Daily: &DailyRule{}}, end: start.Add(25 * time.Hour)},
		{name: "weekly spanning eight days", rule: Rule{Pattern: PatternWeekly, Weekly: &WeeklyRule{}}, end: start.AddDate(0, 0, 8)},
		{name: "non-positive duration", rule: Rule{Pattern: PatternDaily, Daily: &DailyRule{}}, end: start},
		{name: "missing sub-rule", rule: Rule{Pattern: PatternMonthly}, end: start.Add(time.Hour)},
		{name: "unknown pattern", rule: Rule{Pattern: "hourly"}, end: start.Add(time.Hour)},
		{name: "bad ordinal", rule: Rule{Pattern: PatternMonthly, Monthly: &MonthlyRule{ByWeekday: true, Ordinal: 9}}, end: start.Add(time.Hour)},
		{name: "empty custom", rule: Rule{Pattern: PatternCustom, Custom: &CustomRule{}}, end: start.Add(time.Hour)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Expand(tc.rule, start, tc.end)
			if !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestExpand_HonoursCaps(t *testing.T) {
	t.Parallel()

	start := at(2026, time.January, 5, 9, 0)
	end := start.Add(2 * time.Hour)
	farFuture := datePtr(2100, time.January, 1)

	rules := []Rule{
		{Pattern: PatternDaily, Daily: &DailyRule{Interval: 1}, EndAfter: 500},
		{Pattern: PatternDaily, Daily: &DailyRule{EveryWeekday: true}, EndBy: farFuture},
		{Pattern: PatternWeekly, Weekly: &WeeklyRule{Days: []time.Weekday{time.Monday, time.Wednesday, time.Friday}}},
		{Pattern: PatternMonthly, Monthly: &MonthlyRule{Day: 31}, EndAfter: 1000},
		{Pattern: PatternMonthly, Monthly: &MonthlyRule{ByWeekday: true, Ordinal: OrdinalLast, Weekday: time.Friday}},
		{Pattern: PatternYearly, Yearly: &YearlyRule{Month: time.February, Day: 29}, EndBy: farFuture},
	}

	for _, rule := range rules {
		got, err := Expand(rule, start, end)
		if err != nil {
			t.Fatalf("Expand(%s) error = %v", rule.Pattern, err)
		}
		if len(got.Occurrences) != rule.Cap() {
			t.Fatalf("Expand(%s) returned %d occurrences, want cap %d", rule.Pattern, len(got.Occurrences), rule.Cap())
		}
		if len(got.Readable) != len(got.Occurrences) {
			t.Fatalf("readable and occurrence counts differ for %s", rule.Pattern)
		}
		assertChronological(t, got.Occurrences)
	}
}

func TestExpand_TerminatesOnAdversarialBounds(t *testing.T) {
	t.Parallel()

	start := at(2026, time.June, 10, 14, 30)
	end := start.Add(time.Hour)
	past := datePtr(2020, time.January, 1)

	rules := []Rule{
		{Pattern: PatternDaily, Daily: &DailyRule{Interval: -4}, EndBy: past},
		{Pattern: PatternWeekly, Weekly: &WeeklyRule{Interval: 0}, EndBy: past, EndAfter: 3},
		{Pattern: PatternMonthly, Monthly: &MonthlyRule{Interval: 12, Day: 10}, EndBy: past},
		{Pattern: PatternYearly, Yearly: &YearlyRule{Month: time.January, Day: 1}, EndBy: past},
		{Pattern: PatternCustom, Custom: &CustomRule{Dates: []time.Time{at(2026, time.July, 1, 0, 0)}}, EndBy: past},
	}

	for _, rule := range rules {
		got, err := Expand(rule, start, end)
		if err != nil {
			t.Fatalf("Expand(%s) error = %v", rule.Pattern, err)
		}
		if len(got.Occurrences) != 0 {
			t.Fatalf("Expand(%s) expected no occurrences before start, got %d", rule.Pattern, len(got.Occurrences))
		}
	}
}

func TestExpand_Daily(t *testing.T) {
	t.Parallel()

	// Friday
	start := at(2026, time.March, 6, 9, 0)
	end := at(2026, time.March, 6, 15, 0)

	got, err := Expand(Rule{Pattern: PatternDaily, Daily: &DailyRule{EveryWeekday: true}, EndAfter: 3}, start, end)
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	want := []time.Time{start, at(2026, time.March, 9, 9, 0), at(2026, time.March, 10, 9, 0)}
	assertStarts(t, got.Occurrences, want)
	if !got.Occurrences[1].End.Equal(at(2026, time.March, 9, 15, 0)) {
		t.Fatalf("unexpected end %v", got.Occurrences[1].End)
	}

	got, err = Expand(Rule{Pattern: PatternDaily, Daily: &DailyRule{Interval: 3}, EndBy: datePtr(2026, time.March, 12)}, start, end)
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	assertStarts(t, got.Occurrences, []time.Time{start, at(2026, time.March, 9, 9, 0), at(2026, time.March, 12, 9, 0)})
}

func TestExpand_WeeklySkipsEarlierDaysInFirstWeek(t *testing.T) {
	t.Parallel()

	// Wednesday
	start := at(2026, time.March, 4, 9, 0)
	end := start.Add(3 * time.Hour)

	got, err := Expand(Rule{
		Pattern:  PatternWeekly,
		Weekly:   &WeeklyRule{Interval: 1, Days: []time.Weekday{time.Friday, time.Monday}},
		EndAfter: 5,
	}, start, end)
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}

	want := []time.Time{
		at(2026, time.March, 6, 9, 0),
		at(2026, time.March, 9, 9, 0),
		at(2026, time.March, 13, 9, 0),
		at(2026, time.March, 16, 9, 0),
		at(2026, time.March, 20, 9, 0),
	}
	assertStarts(t, got.Occurrences, want)
}

func TestExpand_WeeklyInterval(t *testing.T) {
	t.Parallel()

	// Monday
	start := at(2026, time.March, 2, 10, 0)
	got, err := Expand(Rule{
		Pattern: PatternWeekly,
		Weekly:  &WeeklyRule{Interval: 2, Days: []time.Weekday{time.Monday, time.Sunday}},
		EndBy:   datePtr(2026, time.March, 22),
	}, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}

	want := []time.Time{
		at(2026, time.March, 2, 10, 0),
		at(2026, time.March, 8, 10, 0),
		at(2026, time.March, 16, 10, 0),
		at(2026, time.March, 22, 10, 0),
	}
	assertStarts(t, got.Occurrences, want)
}

func TestExpand_WeeklyKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Australia/Melbourne")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	start := time.Date(2026, time.March, 30, 9, 0, 0, 0, loc)

	got, err := Expand(Rule{Pattern: PatternWeekly, Weekly: &WeeklyRule{}, EndAfter: 3}, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	for _, occ := range got.Occurrences {
		if occ.Start.Hour() != 9 {
			t.Fatalf("expected 9am local start, got %v", occ.Start)
		}
	}
}

func TestExpand_Monthly(t *testing.T) {
	t.Parallel()

	start := at(2026, time.January, 31, 8, 30)
	end := start.Add(time.Hour)

	got, err := Expand(Rule{Pattern: PatternMonthly, Monthly: &MonthlyRule{Day: 31}, EndAfter: 3}, start, end)
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	assertStarts(t, got.Occurrences, []time.Time{
		at(2026, time.January, 31, 8, 30),
		at(2026, time.February, 28, 8, 30),
		at(2026, time.March, 31, 8, 30),
	})

	// second Monday of every 3 months, starting after January's second Monday
	start = at(2026, time.January, 20, 9, 0)
	got, err = Expand(Rule{
		Pattern:  PatternMonthly,
		Monthly:  &MonthlyRule{Interval: 3, ByWeekday: true, Ordinal: OrdinalSecond, Weekday: time.Monday},
		EndAfter: 2,
	}, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	assertStarts(t, got.Occurrences, []time.Time{
		at(2026, time.April, 13, 9, 0),
		at(2026, time.July, 13, 9, 0),
	})

	got, err = Expand(Rule{
		Pattern:  PatternMonthly,
		Monthly:  &MonthlyRule{ByWeekday: true, Ordinal: OrdinalLast, Weekday: time.Friday},
		EndAfter: 2,
	}, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	assertStarts(t, got.Occurrences, []time.Time{
		at(2026, time.January, 30, 9, 0),
		at(2026, time.February, 27, 9, 0),
	})
}

func TestExpand_Yearly(t *testing.T) {
	t.Parallel()

	start := at(2026, time.May, 1, 9, 0)
	got, err := Expand(Rule{
		Pattern:  PatternYearly,
		Yearly:   &YearlyRule{Month: time.February, Day: 29},
		EndAfter: 3,
	}, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	assertStarts(t, got.Occurrences, []time.Time{
		at(2027, time.February, 28, 9, 0),
		at(2028, time.February, 29, 9, 0),
		at(2029, time.February, 28, 9, 0),
	})

	got, err = Expand(Rule{
		Pattern:  PatternYearly,
		Yearly:   &YearlyRule{Interval: 2, Month: time.November, ByWeekday: true, Ordinal: OrdinalFirst, Weekday: time.Tuesday},
		EndAfter: 2,
	}, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}
	assertStarts(t, got.Occurrences, []time.Time{
		at(2026, time.November, 3, 9, 0),
		at(2028, time.November, 7, 9, 0),
	})
}

func TestExpand_CustomDedupesSortsAndDropsEarlierDates(t *testing.T) {
	t.Parallel()

	start := at(2026, time.March, 10, 13, 0)
	end := at(2026, time.March, 10, 16, 0)

	got, err := Expand(Rule{
		Pattern: PatternCustom,
		Custom: &CustomRule{Dates: []time.Time{
			at(2026, time.April, 2, 0, 0),
			at(2026, time.March, 1, 0, 0),
			at(2026, time.March, 10, 0, 0),
			at(2026, time.April, 2, 18, 0),
			at(2026, time.March, 20, 7, 0),
		}},
	}, start, end)
	if err != nil {
		t.Fatalf("Expand error = %v", err)
	}

	assertStarts(t, got.Occurrences, []time.Time{
		at(2026, time.March, 10, 13, 0),
		at(2026, time.March, 20, 13, 0),
		at(2026, time.April, 2, 13, 0),
	})
	if !got.Occurrences[2].End.Equal(at(2026, time.April, 2, 16, 0)) {
		t.Fatalf("unexpected end %v", got.Occurrences[2].End)
	}
	if got.Readable[0] != "Tue 10 Mar 2026, 1:00pm - 4:00pm" {
		t.Fatalf("unexpected readable %q", got.Readable[0])
	}
}

func assertStarts(t *testing.T, got []Occurrence, want []time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i]) {
			t.Fatalf("occurrence %d starts %v, want %v", i, got[i].Start, want[i])
		}
	}
}

func assertChronological(t *testing.T, occurrences []Occurrence) {
	t.Helper()
	for i := 1; i < len(occurrences); i++ {
		if occurrences[i].Start.Before(occurrences[i-1].Start) {
			t.Fatalf("occurrence %d (%v) precedes %d (%v)", i, occurrences[i].Start, i-1, occurrences[i-1].Start)
		}
	}
}
