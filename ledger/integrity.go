/*
integrity.go - Ledger integrity analyzer

PURPOSE:
  Scans the whole payment ledger against the participant set and reports
  three kinds of finding:
    - DuplicatePaymentGroup: 2+ rows share (participant, month)
    - SuspiciousAmount:      a row's amount differs from its owner's tariff
    - OrphanedPayment:       a row's participant does not exist

  Analyze is pure and safe to run at any time. It never throws on bad data;
  findings are data.

CLEANUP:
  CleanupDuplicates is a separate, destructive, admin-triggered command.
  It keeps the first row of each group and deletes the rest. The analyzer
  never calls it.

TARIFFS:
  Suspicious amounts are checked against the owner's own sacrifice-type
  tariff. Orphans have no owner and so are never tariff-checked.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
)

type DuplicatePaymentGroup struct {
	ParticipantID ParticipantID
	Month         Month
	Payments      []Payment // input order; the first row is the one kept by cleanup
}

type SuspiciousAmount struct {
	Payment  Payment
	Expected Money
}

type OrphanedPayment struct {
	Payment Payment
}

// IntegrityReport is the result of one scan.
type IntegrityReport struct {
	Duplicates  []DuplicatePaymentGroup
	Suspicious  []SuspiciousAmount
	Orphaned    []OrphanedPayment
	TotalIssues int
}

func (r IntegrityReport) Clean() bool { return r.TotalIssues == 0 }

// AnalyzeLedger checks payments against participants. Output order follows
// input order, so the same input always yields the same report.
func AnalyzeLedger(participants []Participant, payments []Payment, tariffs TariffTable) IntegrityReport {
	owners := make(map[ParticipantID]Participant, len(participants))
	for _, p := range participants {
		owners[p.ID] = p
	}

	type key struct {
		participant ParticipantID
		month       Month
	}
	groups := make(map[key][]Payment)
	var order []key

	var report IntegrityReport
	for _, pay := range payments {
		k := key{pay.ParticipantID, pay.Month}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], pay)

		owner, ok := owners[pay.ParticipantID]
		if !ok {
			report.Orphaned = append(report.Orphaned, OrphanedPayment{Payment: pay})
			continue
		}
		expected, ok := tariffs[owner.SacrificeType]
		if !ok {
			// No tariff to compare against; any amount is suspect.
			report.Suspicious = append(report.Suspicious, SuspiciousAmount{Payment: pay, Expected: ZeroMoney()})
			continue
		}
		if !pay.Amount.Equal(expected) {
			report.Suspicious = append(report.Suspicious, SuspiciousAmount{Payment: pay, Expected: expected})
		}
	}

	for _, k := range order {
		if rows := groups[k]; len(rows) > 1 {
			report.Duplicates = append(report.Duplicates, DuplicatePaymentGroup{
				ParticipantID: k.participant,
				Month:         k.month,
				Payments:      rows,
			})
		}
	}

	report.TotalIssues = len(report.Duplicates) + len(report.Suspicious) + len(report.Orphaned)
	return report
}

// String renders the report for admin display and export. Sections always
// appear in the order duplicates, suspicious amounts, orphaned.
func (r IntegrityReport) String() string {
	var b strings.Builder
	b.WriteString("LEDGER INTEGRITY REPORT\n")
	fmt.Fprintf(&b, "Total issues: %d\n", r.TotalIssues)

	if r.TotalIssues == 0 {
		b.WriteString("\nNo issues found.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nDuplicate payments (%d):\n", len(r.Duplicates))
	if len(r.Duplicates) == 0 {
		b.WriteString("  none\n")
	}
	for _, d := range r.Duplicates {
		ids := make([]string, len(d.Payments))
		for i, p := range d.Payments {
			ids[i] = string(p.ID)
		}
		fmt.Fprintf(&b, "  - participant %s, month %s: %d rows [%s]\n",
			d.ParticipantID, d.Month, len(d.Payments), strings.Join(ids, ", "))
	}

	fmt.Fprintf(&b, "\nSuspicious amounts (%d):\n", len(r.Suspicious))
	if len(r.Suspicious) == 0 {
		b.WriteString("  none\n")
	}
	for _, s := range r.Suspicious {
		fmt.Fprintf(&b, "  - payment %s (participant %s, month %s): amount %s, expected %s\n",
			s.Payment.ID, s.Payment.ParticipantID, s.Payment.Month, s.Payment.Amount, s.Expected)
	}

	fmt.Fprintf(&b, "\nOrphaned payments (%d):\n", len(r.Orphaned))
	if len(r.Orphaned) == 0 {
		b.WriteString("  none\n")
	}
	for _, o := range r.Orphaned {
		fmt.Fprintf(&b, "  - payment %s: participant %s not found (month %s)\n",
			o.Payment.ID, o.Payment.ParticipantID, o.Payment.Month)
	}
	return b.String()
}

// CleanupDuplicates deletes every row but the first in each group and
// returns how many rows were removed. An empty slice is a no-op.
// On a failed delete the count so far is returned with the error.
func CleanupDuplicates(ctx context.Context, payments PaymentStore, groups []DuplicatePaymentGroup) (int, error) {
	removed := 0
	for _, g := range groups {
		if len(g.Payments) < 2 {
			continue
		}
		for _, p := range g.Payments[1:] {
			if err := payments.DeletePayment(ctx, p.ID); err != nil {
				return removed, persistErr("delete payment", err)
			}
			removed++
		}
	}
	return removed, nil
}
