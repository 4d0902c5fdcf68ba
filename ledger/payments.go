/*
payments.go - Payment record store (one row per participant and month)

PURPOSE:
  The single write primitive for the per-month ledger. Both admin toggles
  and receipt-driven lump sums go through UpsertPayment.

INVARIANT:
  At most one Payment row per (ParticipantID, Month). Writes look up the
  existing row first and overwrite it in place; a second row is only ever
  created by something bypassing this type (and is then reported by the
  integrity analyzer).

CREDIT:
  This file never touches the credit account. The reconciler links the two
  ledgers, so single-month toggles and multi-month receipts share one
  primitive without booking credit twice.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentInput is the full state to write for one (participant, month).
type PaymentInput struct {
	ParticipantID ParticipantID
	Month         Month
	Amount        Money
	IsPaid        bool
	PaidDate      *time.Time // defaults to now when IsPaid and unset
	Note          string
}

// PaymentRecords implements idempotent create-or-update of payment rows.
type PaymentRecords struct {
	Payments     PaymentStore
	Participants ParticipantStore
	Schedule     Schedule
	Tariffs      TariffTable
	Now          func() time.Time
}

func NewPaymentRecords(payments PaymentStore, participants ParticipantStore, cfg Config) *PaymentRecords {
	cfg = cfg.withDefaults()
	return &PaymentRecords{
		Payments:     payments,
		Participants: participants,
		Schedule:     cfg.Schedule,
		Tariffs:      cfg.Tariffs,
		Now:          cfg.Now,
	}
}

// Upsert writes in for its (participant, month) key and returns the row ID.
// Repeated calls with the same key never create a second row.
func (r *PaymentRecords) Upsert(ctx context.Context, in PaymentInput) (PaymentID, error) {
	if err := r.Schedule.validate(in.Month); err != nil {
		return "", err
	}
	if in.IsPaid && !in.Amount.IsPositive() {
		return "", &ValidationError{Field: "amount", Value: in.Amount.String(), Err: ErrInvalidAmount}
	}
	if in.Amount.IsNegative() {
		return "", &ValidationError{Field: "amount", Value: in.Amount.String(), Err: ErrInvalidAmount}
	}
	if _, err := r.participant(ctx, in.ParticipantID); err != nil {
		return "", err
	}

	now := r.Now()
	paidDate := in.PaidDate
	if !in.IsPaid {
		paidDate = nil
	} else if paidDate == nil {
		paidDate = &now
	}

	existing, err := r.Payments.FindPayments(ctx, in.ParticipantID, in.Month)
	if err != nil {
		return "", persistErr("find payment", err)
	}

	row := Payment{
		ParticipantID: in.ParticipantID,
		Month:         in.Month,
		Amount:        in.Amount,
		IsPaid:        in.IsPaid,
		PaidDate:      paidDate,
		Note:          in.Note,
		UpdatedAt:     now,
	}

	if len(existing) > 0 {
		// Duplicates may already exist; the first row is canonical.
		row.ID = existing[0].ID
		if err := r.Payments.UpdatePayment(ctx, row); err != nil {
			return "", persistErr("update payment", err)
		}
		return row.ID, nil
	}

	row.ID = PaymentID(uuid.NewString())
	id, err := r.Payments.CreatePayment(ctx, row)
	if err != nil {
		return "", persistErr("create payment", err)
	}
	return id, nil
}

// SetPaid toggles isPaid for one month, setting or clearing the paid date.
// The existing amount is preserved; a new row defaults to the participant's tariff.
func (r *PaymentRecords) SetPaid(ctx context.Context, participantID ParticipantID, month Month, paid bool) (PaymentID, error) {
	if err := r.Schedule.validate(month); err != nil {
		return "", err
	}
	p, err := r.participant(ctx, participantID)
	if err != nil {
		return "", err
	}

	existing, err := r.Payments.FindPayments(ctx, participantID, month)
	if err != nil {
		return "", persistErr("find payment", err)
	}

	in := PaymentInput{ParticipantID: participantID, Month: month, IsPaid: paid}
	if len(existing) > 0 && existing[0].Amount.IsPositive() {
		in.Amount = existing[0].Amount
		in.Note = existing[0].Note
	} else {
		tariff, err := r.Tariffs.For(p.SacrificeType)
		if err != nil {
			return "", err
		}
		in.Amount = tariff
		if len(existing) > 0 {
			in.Note = existing[0].Note
		}
	}
	return r.Upsert(ctx, in)
}

// ForParticipant returns the participant's rows keyed by month. When duplicates
// exist the first row wins, matching Upsert.
func (r *PaymentRecords) ForParticipant(ctx context.Context, participantID ParticipantID) (map[Month]Payment, error) {
	rows, err := r.Payments.ListPaymentsByParticipant(ctx, participantID)
	if err != nil {
		return nil, persistErr("list payments", err)
	}
	return indexByMonth(rows), nil
}

func (r *PaymentRecords) participant(ctx context.Context, id ParticipantID) (Participant, error) {
	p, err := r.Participants.GetParticipant(ctx, id)
	if IsNotFound(err) {
		return Participant{}, &ValidationError{Field: "participant_id", Value: string(id), Err: ErrUnknownParticipant}
	}
	if err != nil {
		return Participant{}, persistErr("get participant", err)
	}
	return p, nil
}

func indexByMonth(rows []Payment) map[Month]Payment {
	out := make(map[Month]Payment, len(rows))
	for _, p := range rows {
		if _, seen := out[p.Month]; !seen {
			out[p.Month] = p
		}
	}
	return out
}
