package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - A collection period identifier ("YYYY-MM")
// =============================================================================

type Month string

const monthLayout = "2006-01"

// ParseMonth validates s as a "YYYY-MM" period identifier.
func ParseMonth(s string) (Month, error) {
	if _, err := time.Parse(monthLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidMonth, s)
	}
	return Month(s), nil
}

// MonthOf returns the calendar month containing t.
func MonthOf(t time.Time) Month {
	return Month(t.Format(monthLayout))
}

// ordinal is year*12 + month, used for whole-month arithmetic.
// Unparseable months map to 0.
func (m Month) ordinal() int {
	t, err := time.Parse(monthLayout, string(m))
	if err != nil {
		return 0
	}
	return t.Year()*12 + int(t.Month()) - 1
}

// Start returns the first instant of the month (its due date) in UTC.
func (m Month) Start() time.Time {
	t, _ := time.Parse(monthLayout, string(m))
	return t
}

func (m Month) String() string { return string(m) }

// MonthsBetween returns the whole-month difference to - from.
func MonthsBetween(from, to Month) int {
	return to.ordinal() - from.ordinal()
}

// =============================================================================
// INSTALLMENT SCHEDULE - Fixed ordered list of collection periods
// =============================================================================

// Schedule is immutable for the life of a program cycle.
type Schedule struct {
	months []Month
	index  map[Month]int
}

// DefaultScheduleMonths is the 2025/26 collection cycle.
var DefaultScheduleMonths = []string{
	"2025-08", "2025-09", "2025-10", "2025-11",
	"2025-12", "2026-01", "2026-02", "2026-03",
}

// SchedulePeriods is the number of collection months in a programme cycle.
const SchedulePeriods = 8

// NewSchedule builds a schedule from exactly SchedulePeriods strictly
// ascending "YYYY-MM" identifiers.
func NewSchedule(months ...string) (Schedule, error) {
	if len(months) == 0 {
		return Schedule{}, fmt.Errorf("%w: schedule is empty", ErrInvalidMonth)
	}
	s := Schedule{index: make(map[Month]int, len(months))}
	for i, raw := range months {
		m, err := ParseMonth(raw)
		if err != nil {
			return Schedule{}, err
		}
		if i > 0 && m.ordinal() <= s.months[i-1].ordinal() {
			return Schedule{}, fmt.Errorf("%w: %s does not follow %s", ErrInvalidMonth, m, s.months[i-1])
		}
		s.months = append(s.months, m)
		s.index[m] = i
	}
	if len(s.months) != SchedulePeriods {
		return Schedule{}, fmt.Errorf("%w: schedule has %d months, want %d", ErrInvalidMonth, len(s.months), SchedulePeriods)
	}
	return s, nil
}

// MustSchedule is NewSchedule for static definitions; it panics on error.
func MustSchedule(months ...string) Schedule {
	s, err := NewSchedule(months...)
	if err != nil {
		panic(err)
	}
	return s
}

func DefaultSchedule() Schedule { return MustSchedule(DefaultScheduleMonths...) }

func (s Schedule) Months() []Month { return append([]Month(nil), s.months...) }
func (s Schedule) Len() int        { return len(s.months) }

func (s Schedule) Contains(m Month) bool {
	_, ok := s.index[m]
	return ok
}

// IndexOf returns the position of m, or -1 when m is not scheduled.
func (s Schedule) IndexOf(m Month) int {
	if i, ok := s.index[m]; ok {
		return i
	}
	return -1
}

// At returns the month at position i.
func (s Schedule) At(i int) (Month, bool) {
	if i < 0 || i >= len(s.months) {
		return "", false
	}
	return s.months[i], true
}

func (s Schedule) validate(m Month) error {
	if !s.Contains(m) {
		return &ValidationError{Field: "month", Value: string(m), Err: ErrInvalidMonth}
	}
	return nil
}

// =============================================================================
// TARIFFS - Monthly installment amount per sacrifice type
// =============================================================================

type TariffTable map[SacrificeType]Money

// DefaultTariffs charges 100 per month for every sacrifice type.
func DefaultTariffs() TariffTable {
	return TariffTable{
		SacrificeSunat:  NewMoney(100),
		SacrificeNazar:  NewMoney(100),
		SacrificeAqiqah: NewMoney(100),
	}
}

// For returns the monthly tariff for a sacrifice type.
func (t TariffTable) For(st SacrificeType) (Money, error) {
	m, ok := t[st]
	if !ok {
		return Money{}, &ValidationError{Field: "sacrifice_type", Value: string(st), Err: ErrUnknownSacrificeType}
	}
	return m, nil
}
