package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	dateLayout = "Mon 2 Jan 2006"
	timeLayout = "3:04pm"
)

// FormatOccurrence renders an occurrence as "Mon 2 Mar 2026, 9:00am - 3:00pm".
// Occurrences ending on a later date repeat the date on both sides.
func FormatOccurrence(occ Occurrence) string {
	start := occ.Start
	end := occ.End.In(start.Location())

	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed {
		return fmt.Sprintf("%s, %s - %s", start.Format(dateLayout), start.Format(timeLayout), end.Format(timeLayout))
	}
	return fmt.Sprintf("%s, %s - %s, %s",
		start.Format(dateLayout), start.Format(timeLayout),
		end.Format(dateLayout), end.Format(timeLayout))
}

// Describe summarises a rule in plain English, for example
// "The 2nd Monday of every 3 months, 10 times".
func Describe(rule Rule) string {
	var b strings.Builder

	switch rule.Pattern {
	case PatternDaily:
		switch {
		case rule.Daily == nil:
		case rule.Daily.EveryWeekday:
			b.WriteString("Every weekday")
		default:
			b.WriteString("Every " + every(rule.Daily.Interval, "day"))
		}
	case PatternWeekly:
		if rule.Weekly != nil {
			b.WriteString("Every " + every(rule.Weekly.Interval, "week"))
			if len(rule.Weekly.Days) > 0 {
				names := make([]string, 0, len(rule.Weekly.Days))
				for _, iso := range isoDays(rule.Weekly.Days) {
					names = append(names, time.Weekday(iso%7).String())
				}
				b.WriteString(" on " + strings.Join(names, ", "))
			}
		}
	case PatternMonthly:
		if m := rule.Monthly; m != nil {
			if m.ByWeekday {
				fmt.Fprintf(&b, "The %s %s of every %s", ordinalName(m.Ordinal), m.Weekday, every(m.Interval, "month"))
			} else if m.Day > 0 {
				fmt.Fprintf(&b, "Day %d of every %s", m.Day, every(m.Interval, "month"))
			} else {
				b.WriteString("Every " + every(m.Interval, "month"))
			}
		}
	case PatternYearly:
		if y := rule.Yearly; y != nil {
			month := "the same month"
			if y.Month != 0 {
				month = y.Month.String()
			}
			switch {
			case y.ByWeekday:
				fmt.Fprintf(&b, "The %s %s of %s every %s", ordinalName(y.Ordinal), y.Weekday, month, every(y.Interval, "year"))
			case y.Day > 0:
				fmt.Fprintf(&b, "Every %s on %d %s", every(y.Interval, "year"), y.Day, month)
			default:
				b.WriteString("Every " + every(y.Interval, "year"))
			}
		}
	case PatternCustom:
		if rule.Custom != nil {
			b.WriteString("On " + humanize.Comma(int64(len(rule.Custom.Dates))) + " selected dates")
		}
	}

	if b.Len() == 0 {
		return "Does not repeat"
	}

	if rule.EndAfter > 0 {
		fmt.Fprintf(&b, ", %d times", rule.EndAfter)
	}
	if rule.EndBy != nil {
		b.WriteString(", until " + rule.EndBy.Format("2 Jan 2006"))
	}
	return b.String()
}

func every(n int, unit string) string {
	if n <= 1 {
		return unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func ordinalName(o Ordinal) string {
	if o == OrdinalLast {
		return "last"
	}
	return humanize.Ordinal(int(o))
}
