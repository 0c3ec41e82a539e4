package db

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

// Trigger is the closed set of recurrence rules an Automation can carry.
// Matches expects now already converted to the organization zone.
type Trigger interface {
	Kind() TriggerKind
	Matches(now time.Time) bool
	validate() error
	apply(a *Automation)
}

type DayOfMonthTrigger struct {
	Day int
}

type QuarterlyTrigger struct {
	Day    int
	Months []int
}

type HalfYearlyTrigger struct {
	Day    int
	Months []int
}

type YearlyTrigger struct {
	Day   int
	Month int
}

// DateAndTimeTrigger fires once, at or after Date Time in the organization zone.
type DateAndTimeTrigger struct {
	Date string // YYYY-MM-DD
	Time string // HH:MM
}

func (DayOfMonthTrigger) Kind() TriggerKind  { return TriggerDayOfMonth }
func (QuarterlyTrigger) Kind() TriggerKind   { return TriggerQuarterly }
func (HalfYearlyTrigger) Kind() TriggerKind  { return TriggerHalfYearly }
func (YearlyTrigger) Kind() TriggerKind      { return TriggerYearly }
func (DateAndTimeTrigger) Kind() TriggerKind { return TriggerDateAndTime }

func (t DayOfMonthTrigger) Matches(now time.Time) bool {
	return now.Day() == t.Day
}

func (t QuarterlyTrigger) Matches(now time.Time) bool {
	return now.Day() == t.Day && slices.Contains(t.Months, int(now.Month()))
}

func (t HalfYearlyTrigger) Matches(now time.Time) bool {
	return now.Day() == t.Day && slices.Contains(t.Months, int(now.Month()))
}

func (t YearlyTrigger) Matches(now time.Time) bool {
	return now.Day() == t.Day && int(now.Month()) == t.Month
}

// Matches is true when the trigger is due today or was missed on an earlier day.
func (t DateAndTimeTrigger) Matches(now time.Time) bool {
	return t.DueToday(now) || t.Overdue(now)
}

func (t DateAndTimeTrigger) DueToday(now time.Time) bool {
	return t.Date == now.Format(DateLayout) && t.Time <= now.Format(TimeLayout)
}

// Overdue reports a date strictly before today; the time of day is irrelevant.
func (t DateAndTimeTrigger) Overdue(now time.Time) bool {
	return t.Date < now.Format(DateLayout)
}

func validateDay(day int) error {
	if day < 1 || day > 31 {
		return fmt.Errorf("%w: day of month %d out of range 1-31", ErrInvalidTrigger, day)
	}
	return nil
}

func validateMonth(m int) error {
	if m < 1 || m > 12 {
		return fmt.Errorf("%w: month %d out of range 1-12", ErrInvalidTrigger, m)
	}
	return nil
}

func validateMonths(months []int) error {
	if len(months) == 0 {
		return fmt.Errorf("%w: at least one month is required", ErrInvalidTrigger)
	}
	for _, m := range months {
		if err := validateMonth(m); err != nil {
			return err
		}
	}
	return nil
}

// normalizeMonths returns a sorted copy without duplicates.
func normalizeMonths(months []int) datatypes.JSONSlice[int] {
	out := slices.Clone(months)
	slices.Sort(out)
	return datatypes.JSONSlice[int](slices.Compact(out))
}

func (t DayOfMonthTrigger) validate() error { return validateDay(t.Day) }

func (t QuarterlyTrigger) validate() error {
	if err := validateDay(t.Day); err != nil {
		return err
	}
	return validateMonths(t.Months)
}

func (t HalfYearlyTrigger) validate() error {
	if err := validateDay(t.Day); err != nil {
		return err
	}
	return validateMonths(t.Months)
}

func (t YearlyTrigger) validate() error {
	if err := validateDay(t.Day); err != nil {
		return err
	}
	return validateMonth(t.Month)
}

func (t DateAndTimeTrigger) validate() error {
	if _, err := time.Parse(DateLayout, t.Date); err != nil {
		return fmt.Errorf("%w: specific date %q: %v", ErrInvalidTrigger, t.Date, err)
	}
	if _, err := time.Parse(TimeLayout, t.Time); err != nil {
		return fmt.Errorf("%w: specific time %q: %v", ErrInvalidTrigger, t.Time, err)
	}
	return nil
}

func (t DayOfMonthTrigger) apply(a *Automation) {
	a.DayOfMonth = intPtr(t.Day)
}

func (t QuarterlyTrigger) apply(a *Automation) {
	a.DayOfMonth = intPtr(t.Day)
	a.QuarterlyMonths = normalizeMonths(t.Months)
}

func (t HalfYearlyTrigger) apply(a *Automation) {
	a.DayOfMonth = intPtr(t.Day)
	a.HalfYearlyMonths = normalizeMonths(t.Months)
}

func (t YearlyTrigger) apply(a *Automation) {
	a.DayOfMonth = intPtr(t.Day)
	a.MonthOfYear = intPtr(t.Month)
}

func (t DateAndTimeTrigger) apply(a *Automation) {
	d, _ := time.Parse(DateLayout, t.Date)
	tm, _ := time.Parse(TimeLayout, t.Time)
	date, clock := d.Format(DateLayout), tm.Format(TimeLayout)
	a.SpecificDate = &date
	a.SpecificTime = &clock
}

// SetTrigger validates t, clears every trigger column, and writes only the
// columns that belong to t.
func (a *Automation) SetTrigger(t Trigger) error {
	if t == nil {
		return fmt.Errorf("%w: trigger is required", ErrInvalidTrigger)
	}
	if err := t.validate(); err != nil {
		return err
	}
	a.clearTrigger()
	a.TriggerKind = t.Kind()
	t.apply(a)
	return nil
}

func (a *Automation) clearTrigger() {
	a.DayOfMonth = nil
	a.QuarterlyMonths = nil
	a.HalfYearlyMonths = nil
	a.MonthOfYear = nil
	a.SpecificDate = nil
	a.SpecificTime = nil
}

// TriggerColumns returns every trigger column with its current value, for
// targeted updates that must also null out the columns of a previous kind.
func (a *Automation) TriggerColumns() map[string]interface{} {
	return map[string]interface{}{
		"trigger_kind":       a.TriggerKind,
		"day_of_month":       a.DayOfMonth,
		"quarterly_months":   a.QuarterlyMonths,
		"half_yearly_months": a.HalfYearlyMonths,
		"month_of_year":      a.MonthOfYear,
		"specific_date":      a.SpecificDate,
		"specific_time":      a.SpecificTime,
	}
}

// Trigger rebuilds the typed trigger from the stored columns. Rows carrying
// columns of another kind are rejected.
func (a *Automation) Trigger() (Trigger, error) {
	var t Trigger
	switch a.TriggerKind {
	case TriggerDayOfMonth:
		if a.DayOfMonth == nil {
			return nil, a.malformed("day_of_month missing")
		}
		t = DayOfMonthTrigger{Day: *a.DayOfMonth}
	case TriggerQuarterly:
		if a.DayOfMonth == nil {
			return nil, a.malformed("day_of_month missing")
		}
		t = QuarterlyTrigger{Day: *a.DayOfMonth, Months: a.QuarterlyMonths}
	case TriggerHalfYearly:
		if a.DayOfMonth == nil {
			return nil, a.malformed("day_of_month missing")
		}
		t = HalfYearlyTrigger{Day: *a.DayOfMonth, Months: a.HalfYearlyMonths}
	case TriggerYearly:
		if a.DayOfMonth == nil || a.MonthOfYear == nil {
			return nil, a.malformed("day_of_month or month_of_year missing")
		}
		t = YearlyTrigger{Day: *a.DayOfMonth, Month: *a.MonthOfYear}
	case TriggerDateAndTime:
		if a.SpecificDate == nil || a.SpecificTime == nil {
			return nil, a.malformed("specific_date or specific_time missing")
		}
		t = DateAndTimeTrigger{Date: *a.SpecificDate, Time: *a.SpecificTime}
	default:
		return nil, a.malformed(fmt.Sprintf("unknown kind %q", a.TriggerKind))
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("automation %s: %w", a.ID, err)
	}

	var probe Automation
	probe.TriggerKind = t.Kind()
	t.apply(&probe)
	if !sameTriggerColumns(a, &probe) {
		return nil, a.malformed("columns of another trigger kind are set")
	}
	return t, nil
}

func (a *Automation) malformed(reason string) error {
	return fmt.Errorf("%w: automation %s (%s): %s", ErrInvalidTrigger, a.ID, a.TriggerKind, reason)
}

func sameTriggerColumns(a, b *Automation) bool {
	return (a.DayOfMonth == nil) == (b.DayOfMonth == nil) &&
		(len(a.QuarterlyMonths) == 0) == (len(b.QuarterlyMonths) == 0) &&
		(len(a.HalfYearlyMonths) == 0) == (len(b.HalfYearlyMonths) == 0) &&
		(a.MonthOfYear == nil) == (b.MonthOfYear == nil) &&
		(a.SpecificDate == nil) == (b.SpecificDate == nil) &&
		(a.SpecificTime == nil) == (b.SpecificTime == nil)
}

func intPtr(v int) *int { return &v }
