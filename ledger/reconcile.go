/*
reconcile.go - Multi-month (lump sum) reconciliation

PURPOSE:
  Applies one receipt to several installments at once.

ALGORITHM:
  1. tariff = participant's monthly tariff; needed = len(months) * tariff
  2. Book the ENTIRE amount as credit (tagged with the receipt). This is the
     single record of money received.
  3. For each target month, in the given order, spend one tariff of credit.
     Each successful spend upserts that month as paid. The first failed
     spend stops processing: months are never partially applied.
  4. creditDelta = amount - needed. Positive means leftover credit carried
     forward; negative means a shortfall and fewer months marked paid.

ORDERING:
  Spends are strictly sequential. Each UseCredit result is observed before
  the next month is attempted, since it is a balance-checking write.

FAILURE AFTER SPEND:
  If marking a month paid fails after its credit was spent, the spend is
  reversed with an adjustment entry so credit and payment rows agree, and
  the error is returned.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LumpSumResult reports what a lump sum achieved.
type LumpSumResult struct {
	MonthsMarkedPaid int
	PaidMonths       []Month
	UnpaidMonths     []Month // targets left unpaid, in order
	CreditDelta      Money
	Summary          string
}

// Reconciler allocates lump sums across months via the credit account.
type Reconciler struct {
	Participants ParticipantStore
	Payments     *PaymentRecords
	Credit       *CreditAccount
	Schedule     Schedule
	Tariffs      TariffTable
	Now          func() time.Time
}

func NewReconciler(participants ParticipantStore, payments *PaymentRecords, credit *CreditAccount, cfg Config) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		Participants: participants,
		Payments:     payments,
		Credit:       credit,
		Schedule:     cfg.Schedule,
		Tariffs:      cfg.Tariffs,
		Now:          cfg.Now,
	}
}

// ProcessLumpSum books total as credit and spends it on months in order.
func (r *Reconciler) ProcessLumpSum(ctx context.Context, participantID ParticipantID, total Money, months []Month, sourceRef string) (LumpSumResult, error) {
	if !total.IsPositive() {
		return LumpSumResult{}, &ValidationError{Field: "amount", Value: total.String(), Err: ErrInvalidAmount}
	}
	seen := make(map[Month]bool, len(months))
	for _, m := range months {
		if err := r.Schedule.validate(m); err != nil {
			return LumpSumResult{}, err
		}
		if seen[m] {
			return LumpSumResult{}, &ValidationError{Field: "months", Value: string(m), Err: ErrDuplicateMonth}
		}
		seen[m] = true
	}

	p, err := r.Participants.GetParticipant(ctx, participantID)
	if IsNotFound(err) {
		return LumpSumResult{}, &ValidationError{Field: "participant_id", Value: string(participantID), Err: ErrUnknownParticipant}
	}
	if err != nil {
		return LumpSumResult{}, persistErr("get participant", err)
	}
	tariff, err := r.Tariffs.For(p.SacrificeType)
	if err != nil {
		return LumpSumResult{}, err
	}

	needed := tariff.MulInt(len(months))
	res := LumpSumResult{CreditDelta: total.Sub(needed)}

	desc := fmt.Sprintf("Lump sum %s for %d month(s)", total, len(months))
	if err := r.Credit.AddCredit(ctx, participantID, total, sourceRef, desc); err != nil {
		return LumpSumResult{}, err
	}

	for i, m := range months {
		ok, err := r.Credit.UseCredit(ctx, participantID, tariff, m, fmt.Sprintf("Installment %s", m))
		if err != nil {
			res.UnpaidMonths = append(res.UnpaidMonths, months[i:]...)
			res.Summary = r.summary(res, total, needed)
			return res, err
		}
		if !ok {
			res.UnpaidMonths = append(res.UnpaidMonths, months[i:]...)
			break
		}

		now := r.Now()
		_, err = r.Payments.Upsert(ctx, PaymentInput{
			ParticipantID: participantID,
			Month:         m,
			Amount:        tariff,
			IsPaid:        true,
			PaidDate:      &now,
			Note:          sourceRef,
		})
		if err != nil {
			rerr := r.Credit.Adjust(ctx, participantID, tariff, m, fmt.Sprintf("Reversal of installment %s", m))
			res.UnpaidMonths = append(res.UnpaidMonths, months[i:]...)
			res.Summary = r.summary(res, total, needed)
			return res, errors.Join(err, rerr)
		}
		res.MonthsMarkedPaid++
		res.PaidMonths = append(res.PaidMonths, m)
	}

	res.Summary = r.summary(res, total, needed)
	return res, nil
}

func (r *Reconciler) summary(res LumpSumResult, total, needed Money) string {
	requested := res.MonthsMarkedPaid + len(res.UnpaidMonths)
	s := fmt.Sprintf("Received %s against %d month(s) needing %s: %d marked paid",
		total, requested, needed, res.MonthsMarkedPaid)
	switch {
	case res.CreditDelta.IsPositive():
		s += fmt.Sprintf(", credit %s carried forward", res.CreditDelta.SignedString())
	case res.CreditDelta.IsNegative():
		s += fmt.Sprintf(", shortfall %s", res.CreditDelta.SignedString())
	default:
		s += ", exact"
	}
	return s
}
