package sqlite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surau/korban-ledger/ledger"
)

var fixedNow = time.Date(2025, time.October, 15, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*ledger.Engine, *Store) {
	t.Helper()
	s := newTestStore(t)
	cfg := ledger.DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	return ledger.NewEngine(s, cfg, nil), s
}

// =============================================================================
// PARTICIPANTS & GROUPS
// =============================================================================

func TestParticipants_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateGroup(ctx, ledger.Group{ID: "G1", Name: "Lembu 1", CreatedAt: fixedNow})
	require.NoError(t, err)

	in := ledger.Participant{
		ID: "P1", Name: "Ahmad", Phone: "0123", GroupID: "G1",
		SacrificeType: ledger.SacrificeSunat, CreatedAt: fixedNow,
	}
	_, err = s.CreateParticipant(ctx, in)
	require.NoError(t, err)

	got, err := s.GetParticipant(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	byGroup, err := s.ListParticipantsByGroup(ctx, "G1")
	require.NoError(t, err)
	assert.Len(t, byGroup, 1)

	_, err = s.GetParticipant(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestParticipants_ArchiveViaUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := ledger.Participant{ID: "P1", Name: "Ahmad", SacrificeType: ledger.SacrificeNazar, CreatedAt: fixedNow}
	_, err := s.CreateParticipant(ctx, p)
	require.NoError(t, err)

	archived := fixedNow.Add(time.Hour)
	p.ArchivedAt = &archived
	require.NoError(t, s.UpdateParticipant(ctx, p))

	got, err := s.GetParticipant(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
	assert.True(t, archived.Equal(*got.ArchivedAt))

	assert.ErrorIs(t, s.UpdateParticipant(ctx, ledger.Participant{ID: "ghost"}), ledger.ErrNotFound)
}

func TestParticipants_CreateIsInsertOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	archived := fixedNow.Add(time.Hour)
	_, err := s.CreateParticipant(ctx, ledger.Participant{
		ID: "P1", Name: "Ahmad", SacrificeType: ledger.SacrificeSunat, CreatedAt: fixedNow, ArchivedAt: &archived,
	})
	require.NoError(t, err)

	_, err = s.CreateParticipant(ctx, ledger.Participant{
		ID: "P1", Name: "Someone Else", SacrificeType: ledger.SacrificeNazar, CreatedAt: fixedNow,
	})

	assert.ErrorIs(t, err, ledger.ErrDuplicateParticipant)
	got, err := s.GetParticipant(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Ahmad", got.Name)
	assert.Equal(t, ledger.SacrificeSunat, got.SacrificeType)
	assert.True(t, got.Archived())
}

func TestParticipants_ListInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []ledger.ParticipantID{"Z", "A", "M"} {
		_, err := s.CreateParticipant(ctx, ledger.Participant{ID: id, Name: string(id), SacrificeType: ledger.SacrificeSunat, CreatedAt: fixedNow})
		require.NoError(t, err)
	}

	ps, err := s.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, ledger.ParticipantID("Z"), ps[0].ID)
	assert.Equal(t, ledger.ParticipantID("M"), ps[2].ID)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments_DuplicateRowsAreLoadable(t *testing.T) {
	// GIVEN: Two rows for the same (participant, month), as legacy data may hold
	// THEN:  Both load in insertion order and the integrity scan sees them

	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []ledger.PaymentID{"first", "second"} {
		_, err := s.CreatePayment(ctx, ledger.Payment{
			ID: id, ParticipantID: "P1", Month: "2025-08", Amount: ledger.NewMoney(100), IsPaid: true, UpdatedAt: fixedNow,
		})
		require.NoError(t, err)
	}

	rows, err := s.FindPayments(ctx, "P1", "2025-08")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.PaymentID("first"), rows[0].ID)
	assert.True(t, rows[0].IsPaid)
	assert.True(t, rows[0].Amount.Equal(ledger.NewMoney(100)))

	report := ledger.AnalyzeLedger(nil, rows, ledger.DefaultTariffs())
	assert.Len(t, report.Orphaned, 2)
	assert.Len(t, report.Duplicates, 1)
}

func TestPayments_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := ledger.Payment{ID: "pay-1", ParticipantID: "P1", Month: "2025-09", Amount: ledger.NewMoney(100), UpdatedAt: fixedNow}
	_, err := s.CreatePayment(ctx, p)
	require.NoError(t, err)

	paidAt := fixedNow
	p.IsPaid = true
	p.PaidDate = &paidAt
	p.Note = "cash"
	require.NoError(t, s.UpdatePayment(ctx, p))

	rows, err := s.ListPaymentsByParticipant(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsPaid)
	require.NotNil(t, rows[0].PaidDate)
	assert.True(t, fixedNow.Equal(*rows[0].PaidDate))
	assert.Equal(t, "cash", rows[0].Note)

	require.NoError(t, s.DeletePayment(ctx, "pay-1"))
	assert.ErrorIs(t, s.DeletePayment(ctx, "pay-1"), ledger.ErrNotFound)
}

// =============================================================================
// CREDITS
// =============================================================================

func TestCredit_UpdateCommitsBalanceAndLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCredit(ctx, "P1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	acct := ledger.NewCreditAccount(s, ledger.Config{Now: func() time.Time { return fixedNow }})
	require.NoError(t, acct.AddCredit(ctx, "P1", ledger.NewMoney(250), "receipt-1", "cash"))
	ok, err := acct.UseCredit(ctx, "P1", ledger.NewMoney(100), "2025-08", "installment")
	require.NoError(t, err)
	require.True(t, ok)

	c, err := s.GetCredit(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(ledger.NewMoney(150)))
	require.Len(t, c.Transactions, 2)
	assert.Equal(t, ledger.CreditPayment, c.Transactions[0].Type)
	assert.Equal(t, "receipt-1", c.Transactions[0].ReceiptID)
	assert.Equal(t, ledger.CreditUsage, c.Transactions[1].Type)
	assert.Equal(t, ledger.Month("2025-08"), c.Transactions[1].Month)
	assert.NoError(t, c.Verify())
}

func TestCredit_ConcurrentSpends_NeverOverdraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := ledger.NewCreditAccount(s, ledger.Config{Now: func() time.Time { return fixedNow }})
	require.NoError(t, acct.AddCredit(ctx, "P1", ledger.NewMoney(500), "receipt-1", "cash"))

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := acct.UseCredit(ctx, "P1", ledger.NewMoney(100), "2025-08", "installment")
			assert.NoError(t, err)
			if ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, successes.Load())
	c, err := s.GetCredit(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, c.Balance.IsZero(), "balance %s", c.Balance)
	assert.NoError(t, c.Verify())
	assert.Len(t, c.Transactions, 6)
}

func TestCredit_FnErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateCredit(ctx, "P1", func(c *ledger.ParticipantCredit) error {
		c.Balance = ledger.NewMoney(999)
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = s.GetCredit(ctx, "P1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCredit_LogWriteFails_RollsBack(t *testing.T) {
	// GIVEN: The balance upsert succeeds but the log insert fails
	// THEN:  The transaction is rolled back, not committed

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance, updated_at FROM participant_credits").
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "updated_at"}).AddRow("200", "2025-10-01T00:00:00Z"))
	mock.ExpectQuery("SELECT id, date, amount, tx_type").
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "amount", "tx_type", "receipt_id", "month", "description"}).
			AddRow("t1", "2025-10-01T00:00:00Z", "200", "payment", "r1", nil, "seed"))
	mock.ExpectExec("INSERT INTO participant_credits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	acct := ledger.NewCreditAccount(s, ledger.Config{Now: func() time.Time { return fixedNow }})
	ok, err := acct.UseCredit(context.Background(), "P1", ledger.NewMoney(100), "2025-08", "installment")

	assert.False(t, ok)
	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_InsufficientBalance_RollsBackWithoutWrites(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance, updated_at FROM participant_credits").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "updated_at"}))
	mock.ExpectRollback()

	acct := ledger.NewCreditAccount(s, ledger.Config{Now: func() time.Time { return fixedNow }})
	ok, err := acct.UseCredit(context.Background(), "P1", ledger.NewMoney(100), "2025-08", "installment")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_LumpSumOverSQLite(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateParticipant(ctx, ledger.Participant{ID: "P1", Name: "Ahmad", SacrificeType: ledger.SacrificeSunat})
	require.NoError(t, err)

	res, err := engine.ProcessLumpSum(ctx, "P1", ledger.NewMoney(300),
		[]ledger.Month{"2025-08", "2025-09", "2025-10"}, "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.MonthsMarkedPaid)
	assert.True(t, res.CreditDelta.IsZero())

	st, err := engine.GetStatus(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.PaidCount)

	c, err := s.GetCredit(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, c.Balance.IsZero())
	assert.Len(t, c.Transactions, 4)
}

func TestSubscribe_NotifiedAfterCommit(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, ledger.CollectionCredits)
	require.NoError(t, err)

	acct := ledger.NewCreditAccount(s, ledger.Config{Now: func() time.Time { return fixedNow }})
	require.NoError(t, acct.AddCredit(ctx, "P1", ledger.NewMoney(50), "", ""))

	select {
	case c := <-ch:
		assert.Equal(t, "P1", c.ID)
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}
}
