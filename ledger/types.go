/*
Package ledger provides the korban installment ledger and credit engine.

PURPOSE:
  Tracks whether each participant has paid each installment of a fixed
  collection schedule, keeps a per-participant rollover credit balance,
  derives per-month status, and audits the payment ledger for integrity
  problems. UI, exports and reminders sit on top of this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A currency amount (decimal, never float)
  - Participant: A person enrolled in a collective sacrifice
  - Payment: Paid/unpaid state for one (participant, month) pair
  - ParticipantCredit: Running credit balance plus its transaction log

DESIGN PRINCIPLES:
  1. One Payment row per (participant, month): writes upsert, never duplicate
  2. Credit balance always equals the sum of its logged transactions
  3. Precision: Uses decimal.Decimal to avoid floating-point errors
  4. Type Safety: Strong typing for IDs prevents mixing participant/payment IDs

USAGE:
  engine := ledger.NewEngine(store, ledger.DefaultConfig(), logger)
  res, err := engine.ProcessLumpSum(ctx, "p-1", ledger.NewMoney(300), months, "receipt-9")

SEE ALSO:
  - schedule.go: Installment schedule and tariffs
  - credit.go: Credit account operations
  - status.go: Per-month status derivation
  - integrity.go: Ledger integrity analyzer
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount (whole ringgit in practice, decimal for safety)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func NewMoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) MulInt(n int) Money          { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) String() string              { return m.Value.String() }

// SignedString renders the amount with an explicit sign ("+50", "-50", "0").
func (m Money) SignedString() string {
	if m.IsPositive() {
		return "+" + m.Value.String()
	}
	return m.Value.String()
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ParticipantID string
type PaymentID string
type GroupID string
type TransactionID string

// =============================================================================
// PARTICIPANT
// =============================================================================

// SacrificeType determines the monthly tariff a participant pays.
type SacrificeType string

const (
	SacrificeSunat  SacrificeType = "korban_sunat"
	SacrificeNazar  SacrificeType = "korban_nazar"
	SacrificeAqiqah SacrificeType = "aqiqah"
)

// SacrificeTypes lists every known type in display order.
var SacrificeTypes = []SacrificeType{SacrificeSunat, SacrificeNazar, SacrificeAqiqah}

func (t SacrificeType) Valid() bool {
	for _, known := range SacrificeTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Participant struct {
	ID            ParticipantID
	Name          string
	Phone         string
	Email         string
	GroupID       GroupID
	SacrificeType SacrificeType
	CreatedAt     time.Time

	// ArchivedAt marks a soft-deleted participant. Payments and credit are kept.
	ArchivedAt *time.Time
}

func (p Participant) Archived() bool { return p.ArchivedAt != nil }

// Group is a sacrifice group (one animal shared by several participants).
type Group struct {
	ID        GroupID
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// PAYMENT - One row per (participant, month)
// =============================================================================

type Payment struct {
	ID            PaymentID
	ParticipantID ParticipantID
	Month         Month
	Amount        Money
	IsPaid        bool
	PaidDate      *time.Time
	Note          string
	UpdatedAt     time.Time
}

// =============================================================================
// CREDIT - Running balance with append-only transaction log
// =============================================================================

type CreditTxType string

const (
	CreditPayment    CreditTxType = "payment"    // Money received (lump sum, receipt)
	CreditUsage      CreditTxType = "usage"      // Credit spent on an installment
	CreditAdjustment CreditTxType = "adjustment" // Admin correction or reversal of a failed usage
)

type CreditTransaction struct {
	ID          TransactionID
	Date        time.Time
	Amount      Money // signed: payment/adjustment positive, usage negative
	Type        CreditTxType
	ReceiptID   string
	Month       Month
	Description string
}

type ParticipantCredit struct {
	ParticipantID ParticipantID
	Balance       Money
	Transactions  []CreditTransaction
	UpdatedAt     time.Time
}

// TransactionSum returns the sum of all logged transaction amounts.
func (c ParticipantCredit) TransactionSum() Money {
	sum := ZeroMoney()
	for _, tx := range c.Transactions {
		sum = sum.Add(tx.Amount)
	}
	return sum
}

// Verify checks that the stored balance equals the transaction log.
func (c ParticipantCredit) Verify() error {
	sum := c.TransactionSum()
	if !sum.Equal(c.Balance) {
		return &CreditDriftError{ParticipantID: c.ParticipantID, Balance: c.Balance, LogSum: sum}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate the log without aliasing.
func (c ParticipantCredit) Clone() ParticipantCredit {
	out := c
	out.Transactions = append([]CreditTransaction(nil), c.Transactions...)
	return out
}
