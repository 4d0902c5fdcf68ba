package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surau/korban-ledger/ledger"
	"github.com/surau/korban-ledger/ledger/store"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.To] {
		return errors.New("relay refused")
	}
	f.sent = append(f.sent, msg)
	return nil
}

// today is 2025-10-15: 2025-08 is two months overdue, 2025-09 one.
var today = time.Date(2025, time.October, 15, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cfg := ledger.DefaultConfig()
	cfg.Now = func() time.Time { return today }
	return ledger.NewEngine(mem, cfg, nil), mem
}

func add(t *testing.T, e *ledger.Engine, id, email string) {
	t.Helper()
	_, err := e.CreateParticipant(context.Background(), ledger.Participant{
		ID: ledger.ParticipantID(id), Name: "Peserta " + id, Email: email, SacrificeType: ledger.SacrificeSunat,
	})
	require.NoError(t, err)
}

func TestRun_SelectsByThreshold(t *testing.T) {
	// GIVEN: late pays nothing (08 is 2 months overdue),
	//        recent paid 08 (09 is 1 month overdue),
	//        current paid 08 and 09
	// WHEN:  Running with a 2-month threshold
	// THEN:  Only late is reminded, and both its overdue months are listed

	engine, _ := setup(t)
	ctx := context.Background()
	add(t, engine, "late", "late@example.com")
	add(t, engine, "recent", "recent@example.com")
	add(t, engine, "current", "current@example.com")
	for _, id := range []ledger.ParticipantID{"recent", "current"} {
		_, err := engine.SetPaid(ctx, id, "2025-08", true)
		require.NoError(t, err)
	}
	_, err := engine.SetPaid(ctx, "current", "2025-09", true)
	require.NoError(t, err)

	mailer := &fakeMailer{}
	res, err := NewNotifier(engine, mailer, 2, nil).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, Result{Checked: 3, Sent: 1, Skipped: 2}, res)
	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "late@example.com", msg.To)
	assert.Contains(t, msg.Subject, "2 overdue installment(s)")
	assert.Contains(t, msg.Body, "Dear Peserta late")
	assert.Contains(t, msg.Body, "2025-08")
	assert.Contains(t, msg.Body, "2025-09")
	assert.Contains(t, msg.Body, "Overdue total: 200")
}

func TestRun_SkipsArchivedAndNoEmail(t *testing.T) {
	engine, _ := setup(t)
	ctx := context.Background()
	add(t, engine, "gone", "gone@example.com")
	add(t, engine, "silent", "")
	_, err := engine.ArchiveParticipant(ctx, "gone")
	require.NoError(t, err)

	mailer := &fakeMailer{}
	res, err := NewNotifier(engine, mailer, 1, nil).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, mailer.sent)
}

func TestRun_CreditCoveredMonthsAreNotOverdue(t *testing.T) {
	engine, _ := setup(t)
	ctx := context.Background()
	add(t, engine, "prepaid", "prepaid@example.com")
	require.NoError(t, engine.AdjustCredit(ctx, "prepaid", ledger.NewMoney(300), "opening balance"))

	mailer := &fakeMailer{}
	res, err := NewNotifier(engine, mailer, 1, nil).Run(ctx)

	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Empty(t, mailer.sent)
}

func TestRun_SendFailureContinues(t *testing.T) {
	engine, _ := setup(t)
	ctx := context.Background()
	add(t, engine, "a", "a@example.com")
	add(t, engine, "b", "b@example.com")

	mailer := &fakeMailer{fail: map[string]bool{"a@example.com": true}}
	res, err := NewNotifier(engine, mailer, 1, nil).Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay refused")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "b@example.com", mailer.sent[0].To)
}

func TestNewNotifier_ThresholdFloor(t *testing.T) {
	n := NewNotifier(nil, nil, 0, nil)
	assert.Equal(t, 1, n.MinOverdueMonths)
}

func TestSMTPMailer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 2525}).Send(ctx, Message{To: "x@example.com"})

	assert.ErrorIs(t, err, context.Canceled)
}
