/*
status.go - Per-month payment status

PURPOSE:
  The single authority for "what state is this installment in". It merges
  the explicit payment rows with the credit balance into one value per
  month, so every caller (dashboard, public lookup, reminders, exports)
  sees the same answer.

STATUS KINDS:
  Paid:            A row exists with IsPaid = true
  CoveredByCredit: Unpaid, but within the prepaid run of the credit balance
  Overdue:         Unpaid, due date (start of month) whole months in the past
  Pending:         Unpaid and not yet overdue (current month, or upcoming)

OVERDUE ARITHMETIC:
  overdue = (cy*12+cm) - (my*12+mm), clamped to 0 for future months.
  1 month overdue is the "warning" tier, 2+ is "critical".

CREDIT COVERAGE:
  Covered months are the unpaid months whose schedule position is fewer
  than PrepaidMonths(balance) positions past the earliest unpaid month.
  Coverage is informational: it never flips IsPaid in the payment store.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type StatusKind string

const (
	StatusPaid            StatusKind = "paid"
	StatusCoveredByCredit StatusKind = "covered_by_credit"
	StatusOverdue         StatusKind = "overdue"
	StatusPending         StatusKind = "pending"
)

// Tier is the display severity of a month.
type Tier string

const (
	TierNone     Tier = "none"
	TierWarning  Tier = "warning"
	TierCritical Tier = "critical"
)

type MonthStatus struct {
	Month         Month
	Kind          StatusKind
	OverdueMonths int
	Upcoming      bool // month starts after the current calendar month
	Tariff        Money
	Payment       *Payment
}

func (s MonthStatus) Tier() Tier {
	switch {
	case s.Kind != StatusOverdue:
		return TierNone
	case s.OverdueMonths >= 2:
		return TierCritical
	default:
		return TierWarning
	}
}

// IsPaid reports the raw ledger state, ignoring credit coverage.
func (s MonthStatus) IsPaid() bool { return s.Kind == StatusPaid }

// ParticipantStatus is the full derived view of one participant.
type ParticipantStatus struct {
	Participant    Participant
	Months         []MonthStatus
	PaidCount      int
	CompletionRate decimal.Decimal // percentage, 0..100
	TotalOwed      Money           // tariff summed over unpaid months
	CreditBalance  Money
	PrepaidMonths  int

	// OutstandingAfterCredit is TotalOwed less the credit balance, floored at 0.
	OutstandingAfterCredit Money

	// NextUnpaid is the earliest month neither paid nor covered by credit.
	NextUnpaid *Month

	MaxOverdueMonths int
}

// Overdue returns the months currently overdue.
func (s ParticipantStatus) Overdue() []MonthStatus {
	var out []MonthStatus
	for _, m := range s.Months {
		if m.Kind == StatusOverdue {
			out = append(out, m)
		}
	}
	return out
}

// StatusInput is everything the calculator needs. It performs no I/O.
type StatusInput struct {
	Participant   Participant
	Payments      []Payment
	CreditBalance Money
	Today         time.Time
	Schedule      Schedule
	Tariff        Money
}

// OverdueMonths returns the whole months month is past due as of today,
// clamped to 0 for current and future months.
func OverdueMonths(month Month, today time.Time) int {
	n := MonthsBetween(month, MonthOf(today))
	if n < 0 {
		return 0
	}
	return n
}

// CalculateStatus derives per-month status and aggregates.
func CalculateStatus(in StatusInput) ParticipantStatus {
	rows := indexByMonth(in.Payments)
	current := MonthOf(in.Today)
	months := in.Schedule.Months()

	balance := in.CreditBalance
	prepaid := PrepaidMonths(balance, in.Tariff)

	firstUnpaid := -1
	for i, m := range months {
		if p, ok := rows[m]; !ok || !p.IsPaid {
			firstUnpaid = i
			break
		}
	}

	out := ParticipantStatus{
		Participant:   in.Participant,
		Months:        make([]MonthStatus, 0, len(months)),
		TotalOwed:     ZeroMoney(),
		CreditBalance: balance,
		PrepaidMonths: prepaid,
	}

	for i, m := range months {
		st := MonthStatus{
			Month:    m,
			Tariff:   in.Tariff,
			Upcoming: MonthsBetween(current, m) > 0,
		}
		if p, ok := rows[m]; ok {
			p := p
			st.Payment = &p
		}

		switch {
		case st.Payment != nil && st.Payment.IsPaid:
			st.Kind = StatusPaid
			out.PaidCount++
		case firstUnpaid >= 0 && i-firstUnpaid < prepaid:
			st.Kind = StatusCoveredByCredit
			out.TotalOwed = out.TotalOwed.Add(in.Tariff)
		default:
			st.OverdueMonths = OverdueMonths(m, in.Today)
			if st.OverdueMonths >= 1 {
				st.Kind = StatusOverdue
			} else {
				st.Kind = StatusPending
			}
			out.TotalOwed = out.TotalOwed.Add(in.Tariff)
			if out.NextUnpaid == nil {
				m := m
				out.NextUnpaid = &m
			}
		}

		if st.OverdueMonths > out.MaxOverdueMonths {
			out.MaxOverdueMonths = st.OverdueMonths
		}
		out.Months = append(out.Months, st)
	}

	if n := len(months); n > 0 {
		out.CompletionRate = decimal.NewFromInt(int64(out.PaidCount)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(n))).
			Round(2)
	}

	out.OutstandingAfterCredit = out.TotalOwed.Sub(balance)
	if out.OutstandingAfterCredit.IsNegative() {
		out.OutstandingAfterCredit = ZeroMoney()
	}
	return out
}
