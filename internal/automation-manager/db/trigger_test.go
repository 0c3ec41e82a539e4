package db

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestQuarterlyTrigger_Matches(t *testing.T) {
	trig := QuarterlyTrigger{Day: 15, Months: []int{1, 4, 7, 10}}

	assert.True(t, trig.Matches(day(2024, time.April, 15)))
	assert.True(t, trig.Matches(day(2024, time.July, 15)))
	assert.False(t, trig.Matches(day(2024, time.April, 14)))
	assert.False(t, trig.Matches(day(2024, time.May, 15)))
}

func TestTriggers_Matches(t *testing.T) {
	tests := []struct {
		name string
		trig Trigger
		now  time.Time
		want bool
	}{
		{"day of month hit", DayOfMonthTrigger{Day: 15}, day(2024, time.March, 15), true},
		{"day of month miss", DayOfMonthTrigger{Day: 15}, day(2024, time.March, 16), false},
		{"day 31 never in a 30 day month", DayOfMonthTrigger{Day: 31}, day(2024, time.April, 30), false},
		{"half yearly hit", HalfYearlyTrigger{Day: 1, Months: []int{1, 7}}, day(2024, time.July, 1), true},
		{"half yearly wrong month", HalfYearlyTrigger{Day: 1, Months: []int{1, 7}}, day(2024, time.June, 1), false},
		{"yearly hit", YearlyTrigger{Day: 31, Month: 3}, day(2025, time.March, 31), true},
		{"yearly wrong month", YearlyTrigger{Day: 31, Month: 3}, day(2025, time.May, 31), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trig.Matches(tt.now))
		})
	}
}

func TestDateAndTimeTrigger(t *testing.T) {
	trig := DateAndTimeTrigger{Date: "2024-03-15", Time: "09:30"}

	before := time.Date(2024, time.March, 15, 9, 29, 59, 0, time.UTC)
	at := time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)
	nextDay := time.Date(2024, time.March, 16, 0, 1, 0, 0, time.UTC)
	dayBefore := time.Date(2024, time.March, 14, 23, 59, 0, 0, time.UTC)

	assert.False(t, trig.Matches(before))
	assert.True(t, trig.DueToday(at))
	assert.False(t, trig.Overdue(at))
	assert.True(t, trig.Overdue(nextDay))
	assert.True(t, trig.Matches(nextDay))
	assert.False(t, trig.Matches(dayBefore))
}

func TestDateAndTimeTrigger_UsesZoneOfNow(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	trig := DateAndTimeTrigger{Date: "2024-03-16", Time: "01:00"}

	// 20:00 UTC on the 15th is 01:30 on the 16th in Kolkata
	instant := time.Date(2024, time.March, 15, 20, 0, 0, 0, time.UTC)
	assert.False(t, trig.Matches(instant))
	assert.True(t, trig.Matches(instant.In(kolkata)))
}

func TestSetTrigger_ClearsPreviousKind(t *testing.T) {
	a := &Automation{}
	require.NoError(t, a.SetTrigger(QuarterlyTrigger{Day: 15, Months: []int{10, 1, 7, 4, 4}}))
	assert.Equal(t, TriggerQuarterly, a.TriggerKind)
	assert.Equal(t, datatypes.JSONSlice[int]{1, 4, 7, 10}, a.QuarterlyMonths)

	require.NoError(t, a.SetTrigger(DateAndTimeTrigger{Date: "2024-05-01", Time: "9:05"}))
	assert.Equal(t, TriggerDateAndTime, a.TriggerKind)
	assert.Nil(t, a.DayOfMonth)
	assert.Nil(t, a.QuarterlyMonths)
	require.NotNil(t, a.SpecificTime)
	assert.Equal(t, "09:05", *a.SpecificTime)

	require.NoError(t, a.SetTrigger(YearlyTrigger{Day: 1, Month: 4}))
	assert.Nil(t, a.SpecificDate)
	assert.Nil(t, a.SpecificTime)
	assert.Equal(t, 4, *a.MonthOfYear)

	got, err := a.Trigger()
	require.NoError(t, err)
	assert.Equal(t, YearlyTrigger{Day: 1, Month: 4}, got)
}

func TestSetTrigger_Invalid(t *testing.T) {
	invalid := []Trigger{
		nil,
		DayOfMonthTrigger{Day: 0},
		DayOfMonthTrigger{Day: 32},
		QuarterlyTrigger{Day: 1},
		HalfYearlyTrigger{Day: 1, Months: []int{13}},
		YearlyTrigger{Day: 1, Month: 0},
		DateAndTimeTrigger{Date: "2024-3-1", Time: "10:00"},
		DateAndTimeTrigger{Date: "2024-03-01", Time: "25:00"},
	}
	for _, trig := range invalid {
		a := &Automation{}
		err := a.SetTrigger(trig)
		assert.True(t, errors.Is(err, ErrInvalidTrigger), "trigger %#v", trig)
		assert.Empty(t, a.TriggerKind)
	}
}

func TestAutomationTrigger_RejectsForeignColumns(t *testing.T) {
	five := 5
	a := &Automation{ID: "a1", TriggerKind: TriggerDayOfMonth, DayOfMonth: &five, MonthOfYear: &five}
	_, err := a.Trigger()
	assert.True(t, errors.Is(err, ErrInvalidTrigger))

	a = &Automation{ID: "a2", TriggerKind: TriggerYearly, DayOfMonth: &five}
	_, err = a.Trigger()
	assert.True(t, errors.Is(err, ErrInvalidTrigger))

	a = &Automation{ID: "a3", TriggerKind: "Weekly"}
	_, err = a.Trigger()
	assert.True(t, errors.Is(err, ErrInvalidTrigger))
}

func TestTriggerKind_Recurring(t *testing.T) {
	assert.True(t, TriggerDayOfMonth.Recurring())
	assert.True(t, TriggerYearly.Recurring())
	assert.False(t, TriggerDateAndTime.Recurring())
}
