/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("100", "150.50") in both directions so
  no precision is lost to float64.

TYPES:
  Participants:  ParticipantDTO, ParticipantRequest
  Groups:        GroupDTO, CreateGroupRequest, GroupSummaryDTO
  Status:        StatusDTO, MonthStatusDTO, LookupDTO
  Payments:      PaymentDTO, SetPaidRequest, UpsertPaymentRequest
  Credit:        CreditDTO, CreditTransactionDTO, AdjustCreditRequest
  Lump sums:     LumpSumRequest, LumpSumDTO
  Integrity:     IntegrityReportDTO, CleanupDTO

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/surau/korban-ledger/ledger"
)

// =============================================================================
// PARTICIPANTS & GROUPS
// =============================================================================

type ParticipantDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone,omitempty"`
	Email         string  `json:"email,omitempty"`
	GroupID       string  `json:"group_id,omitempty"`
	SacrificeType string  `json:"sacrifice_type"`
	CreatedAt     string  `json:"created_at"`
	ArchivedAt    *string `json:"archived_at,omitempty"`
}

// ParticipantRequest is the body for create and update. ID is optional on
// create; one is generated when empty.
type ParticipantRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	GroupID       string `json:"group_id"`
	SacrificeType string `json:"sacrifice_type"`
}

func (r ParticipantRequest) toParticipant() ledger.Participant {
	return ledger.Participant{
		ID:            ledger.ParticipantID(r.ID),
		Name:          r.Name,
		Phone:         r.Phone,
		Email:         r.Email,
		GroupID:       ledger.GroupID(r.GroupID),
		SacrificeType: ledger.SacrificeType(r.SacrificeType),
	}
}

type GroupDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type CreateGroupRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type GroupSummaryDTO struct {
	Group          GroupDTO    `json:"group"`
	Participants   []StatusDTO `json:"participants"`
	TotalCollected string      `json:"total_collected"`
	TotalOwed      string      `json:"total_owed"`
	OverdueCount   int         `json:"overdue_count"`
	FullyPaidCount int         `json:"fully_paid_count"`
}

// =============================================================================
// STATUS
// =============================================================================

type MonthStatusDTO struct {
	Month         string      `json:"month"`
	Status        string      `json:"status"`
	OverdueMonths int         `json:"overdue_months,omitempty"`
	Upcoming      bool        `json:"upcoming"`
	Tier          string      `json:"tier"`
	Tariff        string      `json:"tariff"`
	Payment       *PaymentDTO `json:"payment,omitempty"`
}

type StatusDTO struct {
	Participant            ParticipantDTO   `json:"participant"`
	Months                 []MonthStatusDTO `json:"months"`
	PaidCount              int              `json:"paid_count"`
	CompletionRate         string           `json:"completion_rate"`
	TotalOwed              string           `json:"total_owed"`
	CreditBalance          string           `json:"credit_balance"`
	PrepaidMonths          int              `json:"prepaid_months"`
	OutstandingAfterCredit string           `json:"outstanding_after_credit"`
	NextUnpaid             *string          `json:"next_unpaid,omitempty"`
	MaxOverdueMonths       int              `json:"max_overdue_months"`
}

// LookupDTO is the public portal view: name and month states only.
type LookupDTO struct {
	Name   string           `json:"name"`
	Months []LookupMonthDTO `json:"months"`
}

type LookupMonthDTO struct {
	Month    string `json:"month"`
	Status   string `json:"status"`
	Upcoming bool   `json:"upcoming"`
}

type ScheduleDTO struct {
	Months       []string          `json:"months"`
	Tariffs      map[string]string `json:"tariffs"`
	CurrentMonth string            `json:"current_month"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID            string  `json:"id"`
	ParticipantID string  `json:"participant_id"`
	Month         string  `json:"month"`
	Amount        string  `json:"amount"`
	IsPaid        bool    `json:"is_paid"`
	PaidDate      *string `json:"paid_date,omitempty"`
	Note          string  `json:"note,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

type SetPaidRequest struct {
	Paid bool `json:"paid"`
}

// UpsertPaymentRequest writes one month in full. PaidDate is RFC 3339.
type UpsertPaymentRequest struct {
	Amount   string  `json:"amount"`
	IsPaid   bool    `json:"is_paid"`
	PaidDate *string `json:"paid_date"`
	Note     string  `json:"note"`
}

type PaymentIDDTO struct {
	ID string `json:"id"`
}

// =============================================================================
// CREDIT & LUMP SUMS
// =============================================================================

type CreditTransactionDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	ReceiptID   string `json:"receipt_id,omitempty"`
	Month       string `json:"month,omitempty"`
	Description string `json:"description,omitempty"`
}

type CreditDTO struct {
	ParticipantID string                 `json:"participant_id"`
	Balance       string                 `json:"balance"`
	Transactions  []CreditTransactionDTO `json:"transactions"`
	Consistent    bool                   `json:"consistent"`
}

type AdjustCreditRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type LumpSumRequest struct {
	Total     string   `json:"total"`
	Months    []string `json:"months"`
	SourceRef string   `json:"source_ref"`
}

type LumpSumDTO struct {
	MonthsMarkedPaid int      `json:"months_marked_paid"`
	PaidMonths       []string `json:"paid_months"`
	UnpaidMonths     []string `json:"unpaid_months"`
	CreditDelta      string   `json:"credit_delta"`
	Summary          string   `json:"summary"`
	Error            string   `json:"error,omitempty"`
}

// =============================================================================
// INTEGRITY
// =============================================================================

type DuplicateGroupDTO struct {
	ParticipantID string       `json:"participant_id"`
	Month         string       `json:"month"`
	Payments      []PaymentDTO `json:"payments"`
}

type SuspiciousAmountDTO struct {
	Payment  PaymentDTO `json:"payment"`
	Expected string     `json:"expected"`
}

type IntegrityReportDTO struct {
	Duplicates  []DuplicateGroupDTO   `json:"duplicates"`
	Suspicious  []SuspiciousAmountDTO `json:"suspicious"`
	Orphaned    []PaymentDTO          `json:"orphaned"`
	TotalIssues int                   `json:"total_issues"`
}

type CleanupDTO struct {
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toParticipantDTO(p ledger.Participant) ParticipantDTO {
	return ParticipantDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Phone:         p.Phone,
		Email:         p.Email,
		GroupID:       string(p.GroupID),
		SacrificeType: string(p.SacrificeType),
		CreatedAt:     formatTime(p.CreatedAt),
		ArchivedAt:    formatTimePtr(p.ArchivedAt),
	}
}

func toGroupDTO(g ledger.Group) GroupDTO {
	return GroupDTO{ID: string(g.ID), Name: g.Name, CreatedAt: formatTime(g.CreatedAt)}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		ParticipantID: string(p.ParticipantID),
		Month:         string(p.Month),
		Amount:        p.Amount.String(),
		IsPaid:        p.IsPaid,
		PaidDate:      formatTimePtr(p.PaidDate),
		Note:          p.Note,
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func toStatusDTO(st ledger.ParticipantStatus) StatusDTO {
	months := make([]MonthStatusDTO, len(st.Months))
	for i, m := range st.Months {
		months[i] = MonthStatusDTO{
			Month:         string(m.Month),
			Status:        string(m.Kind),
			OverdueMonths: m.OverdueMonths,
			Upcoming:      m.Upcoming,
			Tier:          string(m.Tier()),
			Tariff:        m.Tariff.String(),
		}
		if m.Payment != nil {
			p := toPaymentDTO(*m.Payment)
			months[i].Payment = &p
		}
	}

	dto := StatusDTO{
		Participant:            toParticipantDTO(st.Participant),
		Months:                 months,
		PaidCount:              st.PaidCount,
		CompletionRate:         st.CompletionRate.StringFixed(1),
		TotalOwed:              st.TotalOwed.String(),
		CreditBalance:          st.CreditBalance.String(),
		PrepaidMonths:          st.PrepaidMonths,
		OutstandingAfterCredit: st.OutstandingAfterCredit.String(),
		MaxOverdueMonths:       st.MaxOverdueMonths,
	}
	if st.NextUnpaid != nil {
		next := string(*st.NextUnpaid)
		dto.NextUnpaid = &next
	}
	return dto
}

func toLookupDTO(st ledger.ParticipantStatus) LookupDTO {
	months := make([]LookupMonthDTO, len(st.Months))
	for i, m := range st.Months {
		months[i] = LookupMonthDTO{Month: string(m.Month), Status: string(m.Kind), Upcoming: m.Upcoming}
	}
	return LookupDTO{Name: st.Participant.Name, Months: months}
}

func toCreditDTO(c ledger.ParticipantCredit) CreditDTO {
	txs := make([]CreditTransactionDTO, len(c.Transactions))
	for i, tx := range c.Transactions {
		txs[i] = CreditTransactionDTO{
			ID:          string(tx.ID),
			Date:        formatTime(tx.Date),
			Amount:      tx.Amount.String(),
			Type:        string(tx.Type),
			ReceiptID:   tx.ReceiptID,
			Month:       string(tx.Month),
			Description: tx.Description,
		}
	}
	return CreditDTO{
		ParticipantID: string(c.ParticipantID),
		Balance:       c.Balance.String(),
		Transactions:  txs,
		Consistent:    c.Verify() == nil,
	}
}

func toLumpSumDTO(res ledger.LumpSumResult) LumpSumDTO {
	return LumpSumDTO{
		MonthsMarkedPaid: res.MonthsMarkedPaid,
		PaidMonths:       monthStrings(res.PaidMonths),
		UnpaidMonths:     monthStrings(res.UnpaidMonths),
		CreditDelta:      res.CreditDelta.SignedString(),
		Summary:          res.Summary,
	}
}

func toIntegrityReportDTO(r ledger.IntegrityReport) IntegrityReportDTO {
	dto := IntegrityReportDTO{
		Duplicates:  make([]DuplicateGroupDTO, len(r.Duplicates)),
		Suspicious:  make([]SuspiciousAmountDTO, len(r.Suspicious)),
		Orphaned:    make([]PaymentDTO, len(r.Orphaned)),
		TotalIssues: r.TotalIssues,
	}
	for i, g := range r.Duplicates {
		rows := make([]PaymentDTO, len(g.Payments))
		for j, p := range g.Payments {
			rows[j] = toPaymentDTO(p)
		}
		dto.Duplicates[i] = DuplicateGroupDTO{ParticipantID: string(g.ParticipantID), Month: string(g.Month), Payments: rows}
	}
	for i, s := range r.Suspicious {
		dto.Suspicious[i] = SuspiciousAmountDTO{Payment: toPaymentDTO(s.Payment), Expected: s.Expected.String()}
	}
	for i, o := range r.Orphaned {
		dto.Orphaned[i] = toPaymentDTO(o.Payment)
	}
	return dto
}

func monthStrings(ms []ledger.Month) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
