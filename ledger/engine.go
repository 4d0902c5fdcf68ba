/*
engine.go - Query and command surface used by the HTTP API, reminders and jobs

QUERIES:
  GetStatus, GetCredit, RunIntegrityScan, GroupSummary, participants, groups

COMMANDS:
  SetPaid, UpsertPayment, ProcessLumpSum, AdjustCredit, CleanupDuplicates,
  CreateParticipant, UpdateParticipant, ArchiveParticipant, CreateGroup

  Participants are archived, never hard-deleted: their payments and credit
  stay in the ledger for audit.

SEE ALSO:
  - payments.go, credit.go, status.go, reconcile.go, integrity.go
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Engine struct {
	store      Store
	cfg        Config
	log        *zap.Logger
	payments   *PaymentRecords
	credit     *CreditAccount
	reconciler *Reconciler
}

// NewEngine wires the ledger components over store. A nil logger disables logging.
func NewEngine(store Store, cfg Config, log *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	payments := NewPaymentRecords(store, store, cfg)
	credit := NewCreditAccount(store, cfg)
	return &Engine{
		store:      store,
		cfg:        cfg,
		log:        log.Named("ledger"),
		payments:   payments,
		credit:     credit,
		reconciler: NewReconciler(store, payments, credit, cfg),
	}
}

func (e *Engine) Schedule() Schedule     { return e.cfg.Schedule }
func (e *Engine) Tariffs() TariffTable   { return e.cfg.Tariffs }
func (e *Engine) Credit() *CreditAccount { return e.credit }

// TariffFor returns the monthly tariff for a participant.
func (e *Engine) TariffFor(p Participant) (Money, error) {
	return e.cfg.Tariffs.For(p.SacrificeType)
}

// =============================================================================
// QUERIES
// =============================================================================

// GetStatus derives the participant's per-month status as of now.
func (e *Engine) GetStatus(ctx context.Context, participantID ParticipantID) (ParticipantStatus, error) {
	p, err := e.GetParticipant(ctx, participantID)
	if err != nil {
		return ParticipantStatus{}, err
	}
	return e.statusFor(ctx, p)
}

func (e *Engine) statusFor(ctx context.Context, p Participant) (ParticipantStatus, error) {
	tariff, err := e.TariffFor(p)
	if err != nil {
		return ParticipantStatus{}, err
	}
	rows, err := e.store.ListPaymentsByParticipant(ctx, p.ID)
	if err != nil {
		return ParticipantStatus{}, persistErr("list payments", err)
	}
	balance, err := e.credit.Balance(ctx, p.ID)
	if err != nil {
		return ParticipantStatus{}, err
	}
	return CalculateStatus(StatusInput{
		Participant:   p,
		Payments:      rows,
		CreditBalance: balance,
		Today:         e.cfg.Now(),
		Schedule:      e.cfg.Schedule,
		Tariff:        tariff,
	}), nil
}

// GetCredit returns the balance and transaction log. Drift between the two
// is logged, not returned as an error.
func (e *Engine) GetCredit(ctx context.Context, participantID ParticipantID) (ParticipantCredit, error) {
	if _, err := e.GetParticipant(ctx, participantID); err != nil {
		return ParticipantCredit{}, err
	}
	c, err := e.credit.Get(ctx, participantID)
	if err != nil {
		return ParticipantCredit{}, err
	}
	if verr := c.Verify(); verr != nil {
		e.log.Warn("credit balance disagrees with transaction log",
			zap.String("participant_id", string(participantID)),
			zap.String("balance", c.Balance.String()),
			zap.String("log_sum", c.TransactionSum().String()))
	}
	return c, nil
}

// RunIntegrityScan loads the whole ledger and analyzes it. Read-only.
func (e *Engine) RunIntegrityScan(ctx context.Context) (IntegrityReport, error) {
	participants, err := e.store.ListParticipants(ctx)
	if err != nil {
		return IntegrityReport{}, persistErr("list participants", err)
	}
	payments, err := e.store.ListPayments(ctx)
	if err != nil {
		return IntegrityReport{}, persistErr("list payments", err)
	}
	return AnalyzeLedger(participants, payments, e.cfg.Tariffs), nil
}

// GroupSummary aggregates status for the active participants of a group.
type GroupSummary struct {
	Group          Group
	Participants   []ParticipantStatus
	TotalCollected Money
	TotalOwed      Money
	OverdueCount   int
	FullyPaidCount int
}

func (e *Engine) GroupSummary(ctx context.Context, groupID GroupID) (GroupSummary, error) {
	g, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return GroupSummary{}, persistErr("get group", err)
	}
	members, err := e.store.ListParticipantsByGroup(ctx, groupID)
	if err != nil {
		return GroupSummary{}, persistErr("list participants", err)
	}

	sum := GroupSummary{Group: g, TotalCollected: ZeroMoney(), TotalOwed: ZeroMoney()}
	for _, p := range members {
		if p.Archived() {
			continue
		}
		st, err := e.statusFor(ctx, p)
		if err != nil {
			return GroupSummary{}, err
		}
		for _, m := range st.Months {
			if m.Kind == StatusPaid && m.Payment != nil {
				sum.TotalCollected = sum.TotalCollected.Add(m.Payment.Amount)
			}
		}
		sum.TotalOwed = sum.TotalOwed.Add(st.TotalOwed)
		if st.MaxOverdueMonths > 0 {
			sum.OverdueCount++
		}
		if st.PaidCount == len(st.Months) {
			sum.FullyPaidCount++
		}
		sum.Participants = append(sum.Participants, st)
	}
	return sum, nil
}

// =============================================================================
// PAYMENT COMMANDS
// =============================================================================

// SetPaid toggles a single month. Credit is not touched.
func (e *Engine) SetPaid(ctx context.Context, participantID ParticipantID, month Month, paid bool) (PaymentID, error) {
	id, err := e.payments.SetPaid(ctx, participantID, month, paid)
	if err != nil {
		return "", err
	}
	e.log.Info("payment toggled",
		zap.String("participant_id", string(participantID)),
		zap.String("month", string(month)),
		zap.Bool("paid", paid))
	return id, nil
}

// UpsertPayment writes one row. Credit is not touched.
func (e *Engine) UpsertPayment(ctx context.Context, in PaymentInput) (PaymentID, error) {
	return e.payments.Upsert(ctx, in)
}

// ProcessLumpSum applies a receipt across months via the credit account.
func (e *Engine) ProcessLumpSum(ctx context.Context, participantID ParticipantID, total Money, months []Month, sourceRef string) (LumpSumResult, error) {
	res, err := e.reconciler.ProcessLumpSum(ctx, participantID, total, months, sourceRef)
	if err != nil {
		return res, err
	}
	e.log.Info("lump sum processed",
		zap.String("participant_id", string(participantID)),
		zap.String("source_ref", sourceRef),
		zap.Int("months_marked_paid", res.MonthsMarkedPaid),
		zap.String("credit_delta", res.CreditDelta.SignedString()))
	return res, nil
}

// AdjustCredit books a positive admin correction.
func (e *Engine) AdjustCredit(ctx context.Context, participantID ParticipantID, amount Money, description string) error {
	if _, err := e.GetParticipant(ctx, participantID); err != nil {
		return err
	}
	return e.credit.Adjust(ctx, participantID, amount, "", description)
}

// CleanupDuplicates deletes all but the first row of each duplicate group.
func (e *Engine) CleanupDuplicates(ctx context.Context, groups []DuplicatePaymentGroup) (int, error) {
	removed, err := CleanupDuplicates(ctx, e.store, groups)
	if err != nil {
		return removed, err
	}
	e.log.Info("duplicate payments removed", zap.Int("removed", removed), zap.Int("groups", len(groups)))
	return removed, nil
}

// =============================================================================
// PARTICIPANTS & GROUPS
// =============================================================================

func (e *Engine) GetParticipant(ctx context.Context, id ParticipantID) (Participant, error) {
	p, err := e.store.GetParticipant(ctx, id)
	if IsNotFound(err) {
		return Participant{}, &ValidationError{Field: "participant_id", Value: string(id), Err: ErrUnknownParticipant}
	}
	if err != nil {
		return Participant{}, persistErr("get participant", err)
	}
	return p, nil
}

func (e *Engine) ListParticipants(ctx context.Context) ([]Participant, error) {
	ps, err := e.store.ListParticipants(ctx)
	return ps, persistErr("list participants", err)
}

func (e *Engine) CreateParticipant(ctx context.Context, p Participant) (Participant, error) {
	if err := e.validateParticipant(ctx, p); err != nil {
		return Participant{}, err
	}
	if p.ID == "" {
		p.ID = ParticipantID(uuid.NewString())
	} else if _, err := e.store.GetParticipant(ctx, p.ID); err == nil {
		return Participant{}, &ValidationError{Field: "id", Value: string(p.ID), Err: ErrDuplicateParticipant}
	} else if !IsNotFound(err) {
		return Participant{}, persistErr("get participant", err)
	}
	p.CreatedAt = e.cfg.Now()
	p.ArchivedAt = nil
	id, err := e.store.CreateParticipant(ctx, p)
	if errors.Is(err, ErrDuplicateParticipant) {
		return Participant{}, &ValidationError{Field: "id", Value: string(p.ID), Err: ErrDuplicateParticipant}
	}
	if err != nil {
		return Participant{}, persistErr("create participant", err)
	}
	p.ID = id
	return p, nil
}

// UpdateParticipant replaces editable fields; creation and archive times are kept.
func (e *Engine) UpdateParticipant(ctx context.Context, p Participant) (Participant, error) {
	current, err := e.GetParticipant(ctx, p.ID)
	if err != nil {
		return Participant{}, err
	}
	if err := e.validateParticipant(ctx, p); err != nil {
		return Participant{}, err
	}
	p.CreatedAt = current.CreatedAt
	p.ArchivedAt = current.ArchivedAt
	if err := e.store.UpdateParticipant(ctx, p); err != nil {
		return Participant{}, persistErr("update participant", err)
	}
	return p, nil
}

// ArchiveParticipant soft-deletes a participant. Payments and credit are retained.
func (e *Engine) ArchiveParticipant(ctx context.Context, id ParticipantID) (Participant, error) {
	p, err := e.GetParticipant(ctx, id)
	if err != nil {
		return Participant{}, err
	}
	if p.Archived() {
		return p, nil
	}
	now := e.cfg.Now()
	p.ArchivedAt = &now
	if err := e.store.UpdateParticipant(ctx, p); err != nil {
		return Participant{}, persistErr("archive participant", err)
	}
	e.log.Info("participant archived", zap.String("participant_id", string(id)))
	return p, nil
}

func (e *Engine) validateParticipant(ctx context.Context, p Participant) error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Value: p.Name, Err: ErrMissingField}
	}
	if !p.SacrificeType.Valid() {
		return &ValidationError{Field: "sacrifice_type", Value: string(p.SacrificeType), Err: ErrUnknownSacrificeType}
	}
	if _, err := e.cfg.Tariffs.For(p.SacrificeType); err != nil {
		return err
	}
	if p.GroupID != "" {
		_, err := e.store.GetGroup(ctx, p.GroupID)
		if IsNotFound(err) {
			return &ValidationError{Field: "group_id", Value: string(p.GroupID), Err: ErrUnknownGroup}
		}
		if err != nil {
			return persistErr("get group", err)
		}
	}
	return nil
}

func (e *Engine) GetGroup(ctx context.Context, id GroupID) (Group, error) {
	g, err := e.store.GetGroup(ctx, id)
	return g, persistErr("get group", err)
}

func (e *Engine) ListGroups(ctx context.Context) ([]Group, error) {
	gs, err := e.store.ListGroups(ctx)
	return gs, persistErr("list groups", err)
}

func (e *Engine) CreateGroup(ctx context.Context, g Group) (Group, error) {
	if strings.TrimSpace(g.Name) == "" {
		return Group{}, &ValidationError{Field: "name", Value: g.Name, Err: ErrMissingField}
	}
	if g.ID == "" {
		g.ID = GroupID(uuid.NewString())
	}
	g.CreatedAt = e.cfg.Now()
	id, err := e.store.CreateGroup(ctx, g)
	if err != nil {
		return Group{}, persistErr("create group", err)
	}
	g.ID = id
	return g, nil
}

// Now exposes the engine clock to callers that stamp their own records.
func (e *Engine) Now() time.Time { return e.cfg.Now() }
