package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// Pattern selects which sub-rule of a Rule drives the expansion.
type Pattern string

const (
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
	PatternYearly  Pattern = "yearly"
	PatternCustom  Pattern = "custom"
)

// Ordinal picks the nth matching weekday within a month.
type Ordinal int

const (
	OrdinalFirst Ordinal = iota + 1
	OrdinalSecond
	OrdinalThird
	OrdinalFourth
	OrdinalLast
)

const (
	// MaxShortOccurrences caps Daily and Weekly expansions.
	MaxShortOccurrences = 52
	// MaxLongOccurrences caps Monthly, Yearly and Custom expansions.
	MaxLongOccurrences = 30
)

// ErrInvalidRule reports a rule that cannot be expanded, such as a daily
// occurrence spanning more than one day.
var ErrInvalidRule = errors.New("recurrence: invalid rule")

// Rule describes how an activity repeats. Exactly one sub-rule matching
// Pattern must be set.
type Rule struct {
	Pattern Pattern      `json:"pattern"`
	Daily   *DailyRule   `json:"daily,omitempty"`
	Weekly  *WeeklyRule  `json:"weekly,omitempty"`
	Monthly *MonthlyRule `json:"monthly,omitempty"`
	Yearly  *YearlyRule  `json:"yearly,omitempty"`
	Custom  *CustomRule  `json:"custom,omitempty"`

	// EndBy is the last calendar date (inclusive) an occurrence may start on.
	EndBy *time.Time `json:"end_by,omitempty"`
	// EndAfter limits the number of occurrences. Zero means no limit besides the cap.
	EndAfter int `json:"end_after,omitempty"`
}

// DailyRule repeats every Interval days, or on every Monday to Friday.
type DailyRule struct {
	EveryWeekday bool `json:"every_weekday,omitempty"`
	Interval     int  `json:"interval,omitempty"`
}

// WeeklyRule repeats on Days every Interval weeks.
type WeeklyRule struct {
	Interval int            `json:"interval,omitempty"`
	Days     []time.Weekday `json:"days,omitempty"`
}

// MonthlyRule repeats on a day of the month, or the nth weekday of the month.
type MonthlyRule struct {
	Interval  int          `json:"interval,omitempty"`
	ByWeekday bool         `json:"by_weekday,omitempty"`
	Day       int          `json:"day,omitempty"`
	Ordinal   Ordinal      `json:"ordinal,omitempty"`
	Weekday   time.Weekday `json:"weekday,omitempty"`
}

// YearlyRule repeats in Month on a fixed day or the nth weekday.
type YearlyRule struct {
	Interval  int          `json:"interval,omitempty"`
	Month     time.Month   `json:"month,omitempty"`
	ByWeekday bool         `json:"by_weekday,omitempty"`
	Day       int          `json:"day,omitempty"`
	Ordinal   Ordinal      `json:"ordinal,omitempty"`
	Weekday   time.Weekday `json:"weekday,omitempty"`
}

// CustomRule lists explicit calendar dates. Only the date part is used.
type CustomRule struct {
	Dates []time.Time `json:"dates"`
}

// Validate checks the rule's shape independently of any occurrence window.
func (r Rule) Validate() error {
	switch r.Pattern {
	case PatternDaily:
		if r.Daily == nil {
			return fmt.Errorf("%w: daily pattern requires daily settings", ErrInvalidRule)
		}
	case PatternWeekly:
		if r.Weekly == nil {
			return fmt.Errorf("%w: weekly pattern requires weekly settings", ErrInvalidRule)
		}
		for _, d := range r.Weekly.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, d)
			}
		}
	case PatternMonthly:
		if r.Monthly == nil {
			return fmt.Errorf("%w: monthly pattern requires monthly settings", ErrInvalidRule)
		}
		if err := validateDayOrOrdinal(r.Monthly.ByWeekday, r.Monthly.Day, r.Monthly.Ordinal, r.Monthly.Weekday); err != nil {
			return err
		}
	case PatternYearly:
		if r.Yearly == nil {
			return fmt.Errorf("%w: yearly pattern requires yearly settings", ErrInvalidRule)
		}
		if r.Yearly.Month < 0 || r.Yearly.Month > time.December {
			return fmt.Errorf("%w: month %d out of range", ErrInvalidRule, r.Yearly.Month)
		}
		if err := validateDayOrOrdinal(r.Yearly.ByWeekday, r.Yearly.Day, r.Yearly.Ordinal, r.Yearly.Weekday); err != nil {
			return err
		}
	case PatternCustom:
		if r.Custom == nil || len(r.Custom.Dates) == 0 {
			return fmt.Errorf("%w: custom pattern requires at least one date", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidRule, r.Pattern)
	}

	if r.EndAfter < 0 {
		return fmt.Errorf("%w: end_after cannot be negative", ErrInvalidRule)
	}
	return nil
}

func validateDayOrOrdinal(byWeekday bool, day int, ordinal Ordinal, weekday time.Weekday) error {
	if byWeekday {
		if ordinal < OrdinalFirst || ordinal > OrdinalLast {
			return fmt.Errorf("%w: ordinal %d out of range", ErrInvalidRule, ordinal)
		}
		if weekday < time.Sunday || weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, weekday)
		}
		return nil
	}
	if day < 0 || day > 31 {
		return fmt.Errorf("%w: day %d out of range", ErrInvalidRule, day)
	}
	return nil
}

// Cap returns the hard occurrence limit for the rule's pattern.
func (r Rule) Cap() int {
	switch r.Pattern {
	case PatternDaily, PatternWeekly:
		return MaxShortOccurrences
	default:
		return MaxLongOccurrences
	}
}
