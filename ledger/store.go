/*
store.go - Document collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and the document store. The
  engine only needs get / query-by-key / create / update / delete per
  collection, plus one atomic read-modify-write for credit accounts.

KEY INTERFACES:
  ParticipantStore: participants collection
  GroupStore:       groups collection
  PaymentStore:     payments collection, queried by (participant, month)
  CreditStore:      participantCredits collection, atomic UpdateCredit
  Store:            all of the above

ATOMIC CREDIT UPDATES:
  UpdateCredit hands fn a copy of the current account (or an empty one).
  If fn returns nil, the store writes balance and any new transactions in
  one persistence call. If fn returns an error, nothing is written. This
  is how AddCredit/UseCredit stay all-or-nothing under concurrent writers
  and failed writes.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - credit.go: Uses UpdateCredit
  - payments.go: Uses PaymentStore
*/
package ledger

import "context"

// ParticipantStore persists participants. Get returns ErrNotFound when missing.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, id ParticipantID) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
	ListParticipantsByGroup(ctx context.Context, groupID GroupID) ([]Participant, error)
	CreateParticipant(ctx context.Context, p Participant) (ParticipantID, error)
	UpdateParticipant(ctx context.Context, p Participant) error
}

// GroupStore persists sacrifice groups.
type GroupStore interface {
	GetGroup(ctx context.Context, id GroupID) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, g Group) (GroupID, error)
}

// PaymentStore persists payment rows.
// The store itself does not enforce (participant, month) uniqueness; the
// engine upserts, and the integrity analyzer reports any rows that slip through.
type PaymentStore interface {
	// FindPayments returns every row for (participant, month), in creation order.
	FindPayments(ctx context.Context, participantID ParticipantID, month Month) ([]Payment, error)

	// ListPaymentsByParticipant returns every row for a participant.
	ListPaymentsByParticipant(ctx context.Context, participantID ParticipantID) ([]Payment, error)

	// ListPayments returns every row in the ledger, in creation order.
	ListPayments(ctx context.Context) ([]Payment, error)

	CreatePayment(ctx context.Context, p Payment) (PaymentID, error)
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id PaymentID) error
}

// CreditStore persists credit accounts.
type CreditStore interface {
	// GetCredit returns ErrNotFound when the participant has no account yet.
	GetCredit(ctx context.Context, participantID ParticipantID) (ParticipantCredit, error)

	// UpdateCredit performs an atomic read-modify-write of one account.
	// The account is created lazily when fn succeeds on a missing one.
	UpdateCredit(ctx context.Context, participantID ParticipantID, fn func(*ParticipantCredit) error) error
}

// Store is the full document collaborator used by the Engine.
type Store interface {
	ParticipantStore
	GroupStore
	PaymentStore
	CreditStore
}

// =============================================================================
// CHANGE NOTIFICATION (optional, used by UI layers)
// =============================================================================

type Collection string

const (
	CollectionParticipants Collection = "participants"
	CollectionGroups       Collection = "groups"
	CollectionPayments     Collection = "payments"
	CollectionCredits      Collection = "participantCredits"
)

// Change describes one remote write.
type Change struct {
	Collection Collection
	ID         string
	Deleted    bool
}

// Subscriber is implemented by stores that can push change notifications.
// The engine never requires it.
type Subscriber interface {
	Subscribe(ctx context.Context, collection Collection) (<-chan Change, error)
}
