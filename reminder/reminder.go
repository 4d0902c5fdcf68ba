/*
Package reminder sends overdue-installment reminders.

PURPOSE:
  Picks participants with at least one month overdue by MinOverdueMonths or
  more and sends each one plain-text reminder listing what is outstanding.

SELECTION:
  - archived participants are skipped
  - participants without an email address are skipped
  - months covered by credit are never reported as overdue

DELIVERY:
  A failed send is logged and counted; the run continues with the next
  participant. All send errors are returned joined at the end.

SEE ALSO:
  - smtp.go: SMTP Mailer
  - ledger/status.go: overdue arithmetic
*/
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/surau/korban-ledger/ledger"
	"go.uber.org/zap"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// StatusSource is the slice of the ledger engine the notifier reads.
type StatusSource interface {
	ListParticipants(ctx context.Context) ([]ledger.Participant, error)
	GetStatus(ctx context.Context, id ledger.ParticipantID) (ledger.ParticipantStatus, error)
}

// Result summarises one run.
type Result struct {
	Checked int
	Sent    int
	Skipped int
	Failed  int
}

type Notifier struct {
	Source           StatusSource
	Mailer           Mailer
	MinOverdueMonths int
	ProgramName      string
	log              *zap.Logger
}

func NewNotifier(source StatusSource, mailer Mailer, minOverdueMonths int, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	if minOverdueMonths < 1 {
		minOverdueMonths = 1
	}
	return &Notifier{
		Source:           source,
		Mailer:           mailer,
		MinOverdueMonths: minOverdueMonths,
		ProgramName:      "Korban Programme",
		log:              log.Named("reminder"),
	}
}

// Run checks every participant once.
func (n *Notifier) Run(ctx context.Context) (Result, error) {
	var res Result

	participants, err := n.Source.ListParticipants(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list participants: %w", err)
	}

	var errs []error
	for _, p := range participants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		if p.Archived() || strings.TrimSpace(p.Email) == "" {
			res.Skipped++
			continue
		}

		st, err := n.Source.GetStatus(ctx, p.ID)
		if err != nil {
			n.log.Warn("status unavailable", zap.String("participant_id", string(p.ID)), zap.Error(err))
			res.Failed++
			errs = append(errs, err)
			continue
		}

		due := n.dueMonths(st)
		if len(due) == 0 {
			res.Skipped++
			continue
		}

		if err := n.Mailer.Send(ctx, n.compose(p, st, due)); err != nil {
			n.log.Error("reminder not sent",
				zap.String("participant_id", string(p.ID)),
				zap.String("to", p.Email),
				zap.Error(err))
			res.Failed++
			errs = append(errs, fmt.Errorf("participant %s: %w", p.ID, err))
			continue
		}
		res.Sent++
	}

	n.log.Info("reminder run finished",
		zap.Int("checked", res.Checked),
		zap.Int("sent", res.Sent),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}

// dueMonths returns the overdue months that cross the threshold. When any
// month does, every overdue month is listed so the reminder is complete.
func (n *Notifier) dueMonths(st ledger.ParticipantStatus) []ledger.MonthStatus {
	if st.MaxOverdueMonths < n.MinOverdueMonths {
		return nil
	}
	return st.Overdue()
}

func (n *Notifier) compose(p ledger.Participant, st ledger.ParticipantStatus, due []ledger.MonthStatus) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", p.Name)
	fmt.Fprintf(&b, "Our records show the following %s installments are overdue:\n\n", n.ProgramName)

	owed := ledger.ZeroMoney()
	for _, m := range due {
		fmt.Fprintf(&b, "  %s  %s  (%d month(s) overdue)\n", m.Month, m.Tariff, m.OverdueMonths)
		owed = owed.Add(m.Tariff)
	}
	fmt.Fprintf(&b, "\nOverdue total: %s\n", owed)
	if st.CreditBalance.IsPositive() {
		fmt.Fprintf(&b, "Credit on account: %s\n", st.CreditBalance)
	}
	b.WriteString("\nPlease settle at your earliest convenience. If you have already paid, kindly ignore this message.\n")
	fmt.Fprintf(&b, "\nBest regards,\n%s Committee", n.ProgramName)

	return Message{
		To:      p.Email,
		Subject: fmt.Sprintf("%s: %d overdue installment(s)", n.ProgramName, len(due)),
		Body:    b.String(),
	}
}
