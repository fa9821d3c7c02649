package recurrence

import (
	"fmt"
	"sort"
	"time"
)

// maxIterations bounds every expansion loop, including rules whose EndBy
// precedes the first occurrence.
const maxIterations = 1000

// Occurrence is one concrete instance of a repeating activity.
type Occurrence struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Expansion is the result of Expand.
type Expansion struct {
	Occurrences []Occurrence `json:"dates"`
	Readable    []string     `json:"dates_readable"`
}

// Expand turns rule into concrete occurrences, using start and end as the
// first occurrence. Occurrences keep start's location, time of day and
// duration, and are returned in chronological order.
//
// The expansion stops at the first of EndBy, EndAfter, or the pattern's cap.
// ErrInvalidRule is returned for malformed rules, for non-positive durations,
// and for daily or weekly rules whose single occurrence is longer than the
// repeat period itself.
func Expand(rule Rule, start, end time.Time) (Expansion, error) {
	if err := rule.Validate(); err != nil {
		return Expansion{}, err
	}

	duration := end.Sub(start)
	if duration <= 0 {
		return Expansion{}, fmt.Errorf("%w: occurrence must end after it starts", ErrInvalidRule)
	}

	l := newLimiter(rule, start)

	var starts []time.Time
	switch rule.Pattern {
	case PatternDaily:
		if duration > 24*time.Hour {
			return Expansion{}, fmt.Errorf("%w: daily occurrence spans more than one day", ErrInvalidRule)
		}
		starts = expandDaily(*rule.Daily, start, l)
	case PatternWeekly:
		if duration > 7*24*time.Hour {
			return Expansion{}, fmt.Errorf("%w: weekly occurrence spans more than one week", ErrInvalidRule)
		}
		starts = expandWeekly(*rule.Weekly, start, l)
	case PatternMonthly:
		m := rule.Monthly
		starts = expandMonths(start, interval(m.Interval), l, func(year int, month time.Month) int {
			return dayInMonth(year, month, m.ByWeekday, m.Day, m.Ordinal, m.Weekday, start.Day())
		})
	case PatternYearly:
		y := rule.Yearly
		target := y.Month
		if target == 0 {
			target = start.Month()
		}
		starts = expandYears(start, interval(y.Interval), target, l, func(year int, month time.Month) int {
			return dayInMonth(year, month, y.ByWeekday, y.Day, y.Ordinal, y.Weekday, start.Day())
		})
	case PatternCustom:
		starts = expandCustom(*rule.Custom, start, l)
	}

	sort.SliceStable(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	expansion := Expansion{
		Occurrences: make([]Occurrence, 0, len(starts)),
		Readable:    make([]string, 0, len(starts)),
	}
	for _, s := range starts {
		occ := Occurrence{Start: s, End: s.Add(duration)}
		expansion.Occurrences = append(expansion.Occurrences, occ)
		expansion.Readable = append(expansion.Readable, FormatOccurrence(occ))
	}
	return expansion, nil
}

// limiter tracks the termination conditions shared by every pattern.
type limiter struct {
	max    int
	endBy  time.Time
	hasEnd bool
	count  int
}

func newLimiter(rule Rule, start time.Time) *limiter {
	l := &limiter{max: rule.Cap()}
	if rule.EndAfter > 0 && rule.EndAfter < l.max {
		l.max = rule.EndAfter
	}
	if rule.EndBy != nil {
		y, m, d := rule.EndBy.Date()
		l.endBy = time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
		l.hasEnd = true
	}
	return l
}

func (l *limiter) full() bool {
	return l.count >= l.max
}

// past reports whether t falls after the EndBy date.
func (l *limiter) past(t time.Time) bool {
	return l.hasEnd && !t.Before(l.endBy)
}

func (l *limiter) take() {
	l.count++
}

func interval(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func expandDaily(rule DailyRule, start time.Time, l *limiter) []time.Time {
	step := interval(rule.Interval)
	if rule.EveryWeekday {
		step = 1
	}

	var out []time.Time
	for i := 0; i < maxIterations && !l.full(); i++ {
		candidate := start.AddDate(0, 0, i*step)
		if l.past(candidate) {
			break
		}
		if rule.EveryWeekday && isoWeekday(candidate.Weekday()) >= 6 {
			continue
		}
		out = append(out, candidate)
		l.take()
	}
	return out
}

func expandWeekly(rule WeeklyRule, start time.Time, l *limiter) []time.Time {
	days := isoDays(rule.Days)
	if len(days) == 0 {
		days = []int{isoWeekday(start.Weekday())}
	}

	startISO := isoWeekday(start.Weekday())
	monday := start.AddDate(0, 0, 1-startISO)
	step := interval(rule.Interval)

	var out []time.Time
	for week := 0; week < maxIterations && !l.full(); week += step {
		weekStart := monday.AddDate(0, 0, 7*week)
		for _, iso := range days {
			if week == 0 && iso < startISO {
				continue
			}
			candidate := weekStart.AddDate(0, 0, iso-1)
			if l.past(candidate) {
				return out
			}
			out = append(out, candidate)
			l.take()
			if l.full() {
				return out
			}
		}
	}
	return out
}

type dayPicker func(year int, month time.Month) int

func expandMonths(start time.Time, step int, l *limiter, pick dayPicker) []time.Time {
	var out []time.Time
	for i := 0; i < maxIterations && !l.full(); i++ {
		first := time.Date(start.Year(), start.Month()+time.Month(i*step), 1, 0, 0, 0, 0, start.Location())
		candidate := atTimeOfDay(first.Year(), first.Month(), pick(first.Year(), first.Month()), start)
		if candidate.Before(start) {
			continue
		}
		if l.past(candidate) {
			break
		}
		out = append(out, candidate)
		l.take()
	}
	return out
}

func expandYears(start time.Time, step int, month time.Month, l *limiter, pick dayPicker) []time.Time {
	var out []time.Time
	for i := 0; i < maxIterations && !l.full(); i++ {
		year := start.Year() + i*step
		candidate := atTimeOfDay(year, month, pick(year, month), start)
		if candidate.Before(start) {
			continue
		}
		if l.past(candidate) {
			break
		}
		out = append(out, candidate)
		l.take()
	}
	return out
}

func expandCustom(rule CustomRule, start time.Time, l *limiter) []time.Time {
	startDate := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

	seen := make(map[string]struct{}, len(rule.Dates))
	var stamped []time.Time
	for _, d := range rule.Dates {
		y, m, day := d.Date()
		key := fmt.Sprintf("%04d-%02d-%02d", y, m, day)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		candidate := atTimeOfDay(y, m, day, start)
		if candidate.Before(startDate) {
			continue
		}
		stamped = append(stamped, candidate)
	}
	sort.Slice(stamped, func(i, j int) bool { return stamped[i].Before(stamped[j]) })

	var out []time.Time
	for _, candidate := range stamped {
		if l.full() || l.past(candidate) {
			break
		}
		out = append(out, candidate)
		l.take()
	}
	return out
}

// dayInMonth resolves the day of month for a fixed-day or nth-weekday rule.
func dayInMonth(year int, month time.Month, byWeekday bool, day int, ordinal Ordinal, weekday time.Weekday, fallback int) int {
	if byWeekday {
		return nthWeekday(year, month, ordinal, weekday)
	}
	if day <= 0 {
		day = fallback
	}
	if last := daysIn(year, month); day > last {
		return last
	}
	return day
}

// nthWeekday scans forward from the 1st, or backward from the last day for OrdinalLast.
func nthWeekday(year int, month time.Month, ordinal Ordinal, weekday time.Weekday) int {
	last := daysIn(year, month)
	if ordinal == OrdinalLast {
		for day := last; day >= 1; day-- {
			if time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Weekday() == weekday {
				return day
			}
		}
		return last
	}

	seen := 0
	for day := 1; day <= last; day++ {
		if time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Weekday() == weekday {
			seen++
			if seen == int(ordinal) {
				return day
			}
		}
	}
	return last
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func atTimeOfDay(year int, month time.Month, day int, template time.Time) time.Time {
	return time.Date(year, month, day, template.Hour(), template.Minute(), template.Second(), template.Nanosecond(), template.Location())
}

// isoWeekday maps Sunday to 7 so weeks run Monday (1) to Sunday (7).
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func isoDays(days []time.Weekday) []int {
	seen := make(map[int]struct{}, len(days))
	var out []int
	for _, d := range days {
		iso := isoWeekday(d)
		if _, dup := seen[iso]; dup {
			continue
		}
		seen[iso] = struct{}{}
		out = append(out, iso)
	}
	sort.Ints(out)
	return out
}
