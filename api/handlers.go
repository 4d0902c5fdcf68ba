/*
handlers.go - HTTP API handlers for the korban installment ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the ledger package.

ENDPOINTS:
  Participants:
    GET    /api/participants                          List (archived only with ?include_archived=true)
    POST   /api/participants                          Create
    GET    /api/participants/{id}                     Get
    PUT    /api/participants/{id}                     Update editable fields
    POST   /api/participants/{id}/archive             Soft delete
    GET    /api/participants/{id}/status              Merged per-month status
    GET    /api/participants/{id}/credit              Balance and transaction log

  Payments & credit:
    POST   /api/participants/{id}/payments/{month}/paid   Toggle one month
    PUT    /api/participants/{id}/payments/{month}        Write one month in full
    POST   /api/participants/{id}/lump-sums               Spread a receipt across months
    POST   /api/participants/{id}/credit/adjustments      Admin credit correction

  Groups:
    GET    /api/groups                Lists groups
    POST   /api/groups                Create
    GET    /api/groups/{id}/summary   Dashboard totals

  Integrity:
    GET    /api/integrity             Scan (JSON, or ?format=text)
    POST   /api/integrity/cleanup     Scan, then delete duplicate rows

  Other:
    GET    /api/schedule              Program months and tariffs
    GET    /api/changes               Server-sent change notifications
    GET    /api/lookup/{id}           Public portal view

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown participant or group
  - 500: Persistence failures

SECURITY NOTE:
  No authentication. The lookup endpoint exposes name and month states only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/engine.go: Operations called from here
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/surau/korban-ledger/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine

	// Changes feeds /api/changes. Nil disables the endpoint.
	Changes ledger.Subscriber

	log *zap.Logger
}

func NewHandler(engine *ledger.Engine, changes ledger.Subscriber, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Changes: changes, log: log.Named("api")}
}

// =============================================================================
// PARTICIPANT HANDLERS
// =============================================================================

func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.Engine.ListParticipants(r.Context())
	if err != nil {
		h.writeLedgerError(w, "Failed to list participants", err)
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"
	dtos := make([]ParticipantDTO, 0, len(participants))
	for _, p := range participants {
		if p.Archived() && !includeArchived {
			continue
		}
		dtos = append(dtos, toParticipantDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req ParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.CreateParticipant(r.Context(), req.toParticipant())
	if err != nil {
		h.writeLedgerError(w, "Failed to create participant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantDTO(p))
}

func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetParticipant(r.Context(), participantID(r))
	if err != nil {
		h.writeLedgerError(w, "Participant not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantDTO(p))
}

func (h *Handler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req ParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")

	p, err := h.Engine.UpdateParticipant(r.Context(), req.toParticipant())
	if err != nil {
		h.writeLedgerError(w, "Failed to update participant", err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantDTO(p))
}

func (h *Handler) ArchiveParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.ArchiveParticipant(r.Context(), participantID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to archive participant", err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantDTO(p))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.GetStatus(r.Context(), participantID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to compute status", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(st))
}

func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.GetCredit(r.Context(), participantID(r))
	if err != nil {
		h.writeLedgerError(w, "Failed to load credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

// =============================================================================
// PAYMENT & CREDIT COMMANDS
// =============================================================================

// SetPaid toggles one month. Credit is not touched.
func (h *Handler) SetPaid(w http.ResponseWriter, r *http.Request) {
	var req SetPaidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Engine.SetPaid(r.Context(), participantID(r), ledger.Month(chi.URLParam(r, "month")), req.Paid)
	if err != nil {
		h.writeLedgerError(w, "Failed to update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIDDTO{ID: string(id)})
}

func (h *Handler) UpsertPayment(w http.ResponseWriter, r *http.Request) {
	var req UpsertPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	in := ledger.PaymentInput{
		ParticipantID: participantID(r),
		Month:         ledger.Month(chi.URLParam(r, "month")),
		Amount:        amount,
		IsPaid:        req.IsPaid,
		Note:          req.Note,
	}
	if req.PaidDate != nil {
		t, err := time.Parse(time.RFC3339, *req.PaidDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_date", err)
			return
		}
		in.PaidDate = &t
	}

	id, err := h.Engine.UpsertPayment(r.Context(), in)
	if err != nil {
		h.writeLedgerError(w, "Failed to write payment", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIDDTO{ID: string(id)})
}

func (h *Handler) ProcessLumpSum(w http.ResponseWriter, r *http.Request) {
	var req LumpSumRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := parseAmount(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}
	months := make([]ledger.Month, len(req.Months))
	for i, m := range req.Months {
		months[i] = ledger.Month(m)
	}

	res, err := h.Engine.ProcessLumpSum(r.Context(), participantID(r), total, months, req.SourceRef)
	if err != nil && res.Summary == "" {
		h.writeLedgerError(w, "Failed to process lump sum", err)
		return
	}
	if err != nil {
		// The receipt was booked as credit; report which months were paid.
		h.log.Error("lump sum partially applied",
			zap.String("participant_id", string(participantID(r))),
			zap.Int("months_marked_paid", res.MonthsMarkedPaid),
			zap.Error(err))
		dto := toLumpSumDTO(res)
		dto.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, dto)
		return
	}
	writeJSON(w, http.StatusOK, toLumpSumDTO(res))
}

func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustCreditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	ctx := r.Context()
	id := participantID(r)
	if err := h.Engine.AdjustCredit(ctx, id, amount, req.Description); err != nil {
		h.writeLedgerError(w, "Failed to adjust credit", err)
		return
	}
	c, err := h.Engine.GetCredit(ctx, id)
	if err != nil {
		h.writeLedgerError(w, "Failed to load credit", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Engine.ListGroups(r.Context())
	if err != nil {
		h.writeLedgerError(w, "Failed to list groups", err)
		return
	}
	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.Engine.CreateGroup(r.Context(), ledger.Group{ID: ledger.GroupID(req.ID), Name: req.Name})
	if err != nil {
		h.writeLedgerError(w, "Failed to create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

func (h *Handler) GetGroupSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.GroupSummary(r.Context(), ledger.GroupID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, "Failed to summarise group", err)
		return
	}

	statuses := make([]StatusDTO, len(sum.Participants))
	for i, st := range sum.Participants {
		statuses[i] = toStatusDTO(st)
	}
	writeJSON(w, http.StatusOK, GroupSummaryDTO{
		Group:          toGroupDTO(sum.Group),
		Participants:   statuses,
		TotalCollected: sum.TotalCollected.String(),
		TotalOwed:      sum.TotalOwed.String(),
		OverdueCount:   sum.OverdueCount,
		FullyPaidCount: sum.FullyPaidCount,
	})
}

// =============================================================================
// INTEGRITY
// =============================================================================

// RunIntegrityScan is read-only. ?format=text returns the plain report.
func (h *Handler) RunIntegrityScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.RunIntegrityScan(r.Context())
	if err != nil {
		h.writeLedgerError(w, "Integrity scan failed", err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, report.String())
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityReportDTO(report))
}

// CleanupDuplicates rescans and removes every duplicate row but the first of
// each group. It never runs implicitly.
func (h *Handler) CleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.Engine.RunIntegrityScan(ctx)
	if err != nil {
		h.writeLedgerError(w, "Integrity scan failed", err)
		return
	}

	removed, err := h.Engine.CleanupDuplicates(ctx, report.Duplicates)
	if err != nil {
		h.log.Error("duplicate cleanup incomplete", zap.Int("removed", removed), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, CleanupDTO{Removed: removed, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, CleanupDTO{Removed: removed})
}

// =============================================================================
// SCHEDULE, LOOKUP, CHANGES
// =============================================================================

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	tariffs := make(map[string]string, len(h.Engine.Tariffs()))
	for st, amount := range h.Engine.Tariffs() {
		tariffs[string(st)] = amount.String()
	}
	writeJSON(w, http.StatusOK, ScheduleDTO{
		Months:       monthStrings(h.Engine.Schedule().Months()),
		Tariffs:      tariffs,
		CurrentMonth: string(ledger.MonthOf(h.Engine.Now())),
	})
}

// Lookup serves the public portal. Archived participants are not listed.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.GetStatus(r.Context(), participantID(r))
	if err == nil && st.Participant.Archived() {
		err = ledger.ErrNotFound
	}
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Participant not found", nil)
			return
		}
		h.writeLedgerError(w, "Lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toLookupDTO(st))
}

// StreamChanges relays store notifications as server-sent events until the
// client disconnects. ?collection= may repeat; all collections by default.
func (h *Handler) StreamChanges(w http.ResponseWriter, r *http.Request) {
	if h.Changes == nil {
		writeError(w, http.StatusNotImplemented, "Change notifications are not available", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	collections := make([]ledger.Collection, 0, 4)
	for _, c := range r.URL.Query()["collection"] {
		collections = append(collections, ledger.Collection(c))
	}
	if len(collections) == 0 {
		collections = []ledger.Collection{
			ledger.CollectionParticipants, ledger.CollectionGroups,
			ledger.CollectionPayments, ledger.CollectionCredits,
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	merged := make(chan ledger.Change)
	for _, c := range collections {
		ch, err := h.Changes.Subscribe(ctx, c)
		if err != nil {
			h.writeLedgerError(w, "Failed to subscribe", err)
			return
		}
		go forward(ctx, ch, merged)
	}

	// The server-wide write timeout would cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-merged:
			data, _ := json.Marshal(map[string]any{
				"collection": c.Collection,
				"id":         c.ID,
				"deleted":    c.Deleted,
			})
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func forward(ctx context.Context, in <-chan ledger.Change, out chan<- ledger.Change) {
	for c := range in {
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func participantID(r *http.Request) ledger.ParticipantID {
	return ledger.ParticipantID(chi.URLParam(r, "id"))
}

func parseAmount(s string) (ledger.Money, error) {
	if s == "" {
		return ledger.Money{}, fmt.Errorf("%w: amount is required", ledger.ErrInvalidAmount)
	}
	m, err := ledger.NewMoneyFromString(s)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	return m, nil
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// writeLedgerError maps engine errors onto HTTP status codes. Unknown
// participants are checked first because they are also validation errors.
func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
