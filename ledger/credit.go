/*
credit.go - Per-participant credit account

PURPOSE:
  Holds money received but not yet spent on installments. Lump sums are
  booked here in full, then drawn down month by month.

INVARIANT:
  Balance == sum(Transactions[i].Amount) at all times.
  payment and adjustment entries are positive, usage entries negative.

ATOMICITY:
  Every operation runs inside CreditStore.UpdateCredit, so the balance and
  the new log entry are written together or not at all. There is no plain
  "read balance, compute, write balance" sequence anywhere.

INSUFFICIENT CREDIT:
  UseCredit returns (false, nil) when the balance cannot cover the amount.
  No mutation happens. This is a business outcome, not an error.

ROLLOVER:
  PrepaidMonths and NextUnpaidMonth express that credit rolls forward
  through the schedule, never backward, and stops at the schedule's end.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// errInsufficientCredit aborts an UpdateCredit without writing.
var errInsufficientCredit = errors.New("insufficient credit")

// CreditAccount operates on participant credit accounts.
type CreditAccount struct {
	Store CreditStore
	Now   func() time.Time
}

func NewCreditAccount(store CreditStore, cfg Config) *CreditAccount {
	cfg = cfg.withDefaults()
	return &CreditAccount{Store: store, Now: cfg.Now}
}

// Get returns the participant's account, or an empty one if none exists yet.
func (a *CreditAccount) Get(ctx context.Context, participantID ParticipantID) (ParticipantCredit, error) {
	c, err := a.Store.GetCredit(ctx, participantID)
	if errors.Is(err, ErrNotFound) {
		return ParticipantCredit{ParticipantID: participantID, Balance: ZeroMoney()}, nil
	}
	if err != nil {
		return ParticipantCredit{}, persistErr("get credit", err)
	}
	return c, nil
}

// Balance returns the current balance; 0 when no account exists.
func (a *CreditAccount) Balance(ctx context.Context, participantID ParticipantID) (Money, error) {
	c, err := a.Get(ctx, participantID)
	if err != nil {
		return Money{}, err
	}
	return c.Balance, nil
}

// AddCredit books money received. The account is created if absent.
func (a *CreditAccount) AddCredit(ctx context.Context, participantID ParticipantID, amount Money, sourceRef, description string) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Value: amount.String(), Err: ErrInvalidAmount}
	}
	return a.append(ctx, participantID, CreditTransaction{
		Amount:      amount,
		Type:        CreditPayment,
		ReceiptID:   sourceRef,
		Description: description,
	})
}

// Adjust books a positive admin correction.
func (a *CreditAccount) Adjust(ctx context.Context, participantID ParticipantID, amount Money, month Month, description string) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Value: amount.String(), Err: ErrInvalidAmount}
	}
	return a.append(ctx, participantID, CreditTransaction{
		Amount:      amount,
		Type:        CreditAdjustment,
		Month:       month,
		Description: description,
	})
}

// UseCredit spends amount against month if the balance covers it.
// Returns false, with nothing written, when the balance is insufficient.
func (a *CreditAccount) UseCredit(ctx context.Context, participantID ParticipantID, amount Money, month Month, description string) (bool, error) {
	if !amount.IsPositive() {
		return false, &ValidationError{Field: "amount", Value: amount.String(), Err: ErrInvalidAmount}
	}

	now := a.Now()
	err := a.Store.UpdateCredit(ctx, participantID, func(c *ParticipantCredit) error {
		if c.Balance.LessThan(amount) {
			return errInsufficientCredit
		}
		c.Transactions = append(c.Transactions, CreditTransaction{
			ID:          TransactionID(uuid.NewString()),
			Date:        now,
			Amount:      amount.Neg(),
			Type:        CreditUsage,
			Month:       month,
			Description: description,
		})
		c.Balance = c.Balance.Sub(amount)
		c.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errInsufficientCredit) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("use credit", err)
	}
	return true, nil
}

func (a *CreditAccount) append(ctx context.Context, participantID ParticipantID, tx CreditTransaction) error {
	now := a.Now()
	tx.ID = TransactionID(uuid.NewString())
	tx.Date = now
	err := a.Store.UpdateCredit(ctx, participantID, func(c *ParticipantCredit) error {
		c.Transactions = append(c.Transactions, tx)
		c.Balance = c.Balance.Add(tx.Amount)
		c.UpdatedAt = now
		return nil
	})
	return persistErr("update credit", err)
}

// =============================================================================
// ROLLOVER ARITHMETIC - Pure functions, no I/O
// =============================================================================

// PrepaidMonths returns floor(balance / tariff). Non-positive inputs yield 0.
func PrepaidMonths(balance, tariff Money) int {
	if !balance.IsPositive() || !tariff.IsPositive() {
		return 0
	}
	return int(balance.Value.Div(tariff.Value).Floor().IntPart())
}

// NextUnpaidMonth advances PrepaidMonths(balance)+1 positions past current in
// the schedule. ok is false when that runs past the end of the schedule or
// current is not scheduled.
func NextUnpaidMonth(balance, tariff Money, current Month, schedule Schedule) (next Month, ok bool) {
	i := schedule.IndexOf(current)
	if i < 0 {
		return "", false
	}
	return schedule.At(i + PrepaidMonths(balance, tariff) + 1)
}
