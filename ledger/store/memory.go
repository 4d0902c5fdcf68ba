// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/surau/korban-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory document collaborator (for testing/dev)
// =============================================================================

type Memory struct {
	ledger.Broadcaster

	mu               sync.RWMutex
	participants     map[ledger.ParticipantID]ledger.Participant
	participantOrder []ledger.ParticipantID
	groups           map[ledger.GroupID]ledger.Group
	groupOrder       []ledger.GroupID
	payments         []ledger.Payment // creation order
	credits          map[ledger.ParticipantID]ledger.ParticipantCredit
}

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[ledger.ParticipantID]ledger.Participant),
		groups:       make(map[ledger.GroupID]ledger.Group),
		credits:      make(map[ledger.ParticipantID]ledger.ParticipantCredit),
	}
}

var _ ledger.Store = (*Memory)(nil)
var _ ledger.Subscriber = (*Memory)(nil)

// =============================================================================
// PARTICIPANTS
// =============================================================================

func (m *Memory) GetParticipant(_ context.Context, id ledger.ParticipantID) (ledger.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return ledger.Participant{}, ledger.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListParticipants(_ context.Context) ([]ledger.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Participant, 0, len(m.participantOrder))
	for _, id := range m.participantOrder {
		out = append(out, m.participants[id])
	}
	return out, nil
}

func (m *Memory) ListParticipantsByGroup(_ context.Context, groupID ledger.GroupID) ([]ledger.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Participant
	for _, id := range m.participantOrder {
		if p := m.participants[id]; p.GroupID == groupID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CreateParticipant(_ context.Context, p ledger.Participant) (ledger.ParticipantID, error) {
	m.mu.Lock()
	if _, exists := m.participants[p.ID]; exists {
		m.mu.Unlock()
		return "", ledger.ErrDuplicateParticipant
	}
	m.participantOrder = append(m.participantOrder, p.ID)
	m.participants[p.ID] = p
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionParticipants, ID: string(p.ID)})
	return p.ID, nil
}

func (m *Memory) UpdateParticipant(_ context.Context, p ledger.Participant) error {
	m.mu.Lock()
	if _, ok := m.participants[p.ID]; !ok {
		m.mu.Unlock()
		return ledger.ErrNotFound
	}
	m.participants[p.ID] = p
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionParticipants, ID: string(p.ID)})
	return nil
}

// DeleteParticipant removes a participant document only. Its payments are
// left behind; the integrity scan reports them as orphans.
func (m *Memory) DeleteParticipant(_ context.Context, id ledger.ParticipantID) error {
	m.mu.Lock()
	if _, ok := m.participants[id]; !ok {
		m.mu.Unlock()
		return ledger.ErrNotFound
	}
	delete(m.participants, id)
	for i, pid := range m.participantOrder {
		if pid == id {
			m.participantOrder = append(m.participantOrder[:i], m.participantOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionParticipants, ID: string(id), Deleted: true})
	return nil
}

// =============================================================================
// GROUPS
// =============================================================================

func (m *Memory) GetGroup(_ context.Context, id ledger.GroupID) (ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return ledger.Group{}, ledger.ErrNotFound
	}
	return g, nil
}

func (m *Memory) ListGroups(_ context.Context) ([]ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Group, 0, len(m.groupOrder))
	for _, id := range m.groupOrder {
		out = append(out, m.groups[id])
	}
	return out, nil
}

func (m *Memory) CreateGroup(_ context.Context, g ledger.Group) (ledger.GroupID, error) {
	m.mu.Lock()
	if _, exists := m.groups[g.ID]; !exists {
		m.groupOrder = append(m.groupOrder, g.ID)
	}
	m.groups[g.ID] = g
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionGroups, ID: string(g.ID)})
	return g.ID, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) FindPayments(_ context.Context, participantID ledger.ParticipantID, month ledger.Month) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Payment
	for _, p := range m.payments {
		if p.ParticipantID == participantID && p.Month == month {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListPaymentsByParticipant(_ context.Context, participantID ledger.ParticipantID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Payment
	for _, p := range m.payments {
		if p.ParticipantID == participantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListPayments(_ context.Context) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.Payment(nil), m.payments...), nil
}

// CreatePayment appends a row. It does not check (participant, month)
// uniqueness; that is the engine's job.
func (m *Memory) CreatePayment(_ context.Context, p ledger.Payment) (ledger.PaymentID, error) {
	m.mu.Lock()
	m.payments = append(m.payments, p)
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionPayments, ID: string(p.ID)})
	return p.ID, nil
}

func (m *Memory) UpdatePayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	i := m.paymentIndexLocked(p.ID)
	if i < 0 {
		m.mu.Unlock()
		return ledger.ErrNotFound
	}
	m.payments[i] = p
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionPayments, ID: string(p.ID)})
	return nil
}

func (m *Memory) DeletePayment(_ context.Context, id ledger.PaymentID) error {
	m.mu.Lock()
	i := m.paymentIndexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return ledger.ErrNotFound
	}
	m.payments = append(m.payments[:i], m.payments[i+1:]...)
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionPayments, ID: string(id), Deleted: true})
	return nil
}

func (m *Memory) paymentIndexLocked(id ledger.PaymentID) int {
	for i, p := range m.payments {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// CREDITS - Atomic read-modify-write
// =============================================================================

func (m *Memory) GetCredit(_ context.Context, participantID ledger.ParticipantID) (ledger.ParticipantCredit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credits[participantID]
	if !ok {
		return ledger.ParticipantCredit{}, ledger.ErrNotFound
	}
	return c.Clone(), nil
}

// UpdateCredit runs fn on a copy under the write lock and commits the copy
// only if fn succeeds.
func (m *Memory) UpdateCredit(_ context.Context, participantID ledger.ParticipantID, fn func(*ledger.ParticipantCredit) error) error {
	m.mu.Lock()
	current, ok := m.credits[participantID]
	if !ok {
		current = ledger.ParticipantCredit{ParticipantID: participantID, Balance: ledger.ZeroMoney()}
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		m.mu.Unlock()
		return err
	}
	m.credits[participantID] = working
	m.mu.Unlock()

	m.Publish(ledger.Change{Collection: ledger.CollectionCredits, ID: string(participantID)})
	return nil
}
