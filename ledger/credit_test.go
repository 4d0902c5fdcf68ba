package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surau/korban-ledger/ledger"
	"github.com/surau/korban-ledger/ledger/store"
)

func newTestCreditAccount() (*ledger.CreditAccount, *store.Memory) {
	mem := store.NewMemory()
	return ledger.NewCreditAccount(mem, testConfig()), mem
}

// =============================================================================
// BALANCE & CONSERVATION
// =============================================================================

func TestCredit_NoAccount_ZeroBalance(t *testing.T) {
	acct, _ := newTestCreditAccount()

	bal, err := acct.Balance(context.Background(), "P1")

	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestCredit_BalanceEqualsTransactionSum(t *testing.T) {
	// GIVEN: An arbitrary sequence of add/use calls, some of which fail for lack of funds
	// THEN: After every step, balance == sum of logged transaction amounts

	acct, mem := newTestCreditAccount()
	ctx := context.Background()

	steps := []struct {
		add    bool
		amount int64
	}{
		{true, 250}, {false, 100}, {false, 100}, {false, 100}, // third use fails at 50
		{true, 30}, {false, 80}, {false, 1}, {true, 500}, {false, 300}, // 1 fails at 0
	}

	for i, s := range steps {
		if s.add {
			require.NoError(t, acct.AddCredit(ctx, "P1", rm(s.amount), "r", "top up"))
		} else {
			_, err := acct.UseCredit(ctx, "P1", rm(s.amount), "2025-08", "installment")
			require.NoError(t, err)
		}

		c, err := mem.GetCredit(ctx, "P1")
		require.NoError(t, err)
		assert.NoErrorf(t, c.Verify(), "step %d", i)
		assert.Falsef(t, c.Balance.IsNegative(), "step %d: balance went negative", i)
	}

	c, _ := mem.GetCredit(ctx, "P1")
	requireMoney(t, 200, c.Balance)
	assert.Len(t, c.Transactions, 7)
}

func TestCredit_ConcurrentSpends_NeverOverdraw(t *testing.T) {
	// GIVEN: A balance of 500
	// WHEN:  50 goroutines each try to spend 100 at once
	// THEN:  Exactly 5 succeed, the balance ends at 0 and still matches the log

	acct, mem := newTestCreditAccount()
	ctx := context.Background()
	require.NoError(t, acct.AddCredit(ctx, "P1", rm(500), "r1", "cash"))

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := acct.UseCredit(ctx, "P1", rm(100), "2025-08", "installment")
			assert.NoError(t, err)
			if ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, successes.Load())
	c, err := mem.GetCredit(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, c.Balance.IsZero(), "balance %s", c.Balance)
	assert.NoError(t, c.Verify())
	assert.Len(t, c.Transactions, 6)
}

func TestCredit_UseMoreThanBalance_ReturnsFalseAndNoMutation(t *testing.T) {
	acct, mem := newTestCreditAccount()
	ctx := context.Background()
	require.NoError(t, acct.AddCredit(ctx, "P1", rm(50), "receipt-1", "cash"))

	ok, err := acct.UseCredit(ctx, "P1", rm(100), "2025-08", "installment")

	require.NoError(t, err, "insufficient credit is not an error")
	assert.False(t, ok)
	c, _ := mem.GetCredit(ctx, "P1")
	requireMoney(t, 50, c.Balance)
	assert.Len(t, c.Transactions, 1, "failed use must not log a transaction")
}

func TestCredit_UseExactBalance_Succeeds(t *testing.T) {
	acct, mem := newTestCreditAccount()
	ctx := context.Background()
	require.NoError(t, acct.AddCredit(ctx, "P1", rm(100), "receipt-1", "cash"))

	ok, err := acct.UseCredit(ctx, "P1", rm(100), "2025-08", "installment")

	require.NoError(t, err)
	assert.True(t, ok)
	c, _ := mem.GetCredit(ctx, "P1")
	assert.True(t, c.Balance.IsZero())
	require.Len(t, c.Transactions, 2)
	assert.Equal(t, ledger.CreditUsage, c.Transactions[1].Type)
	requireMoney(t, -100, c.Transactions[1].Amount)
	assert.Equal(t, ledger.Month("2025-08"), c.Transactions[1].Month)
}

func TestCredit_AddCredit_RecordsSource(t *testing.T) {
	acct, mem := newTestCreditAccount()
	ctx := context.Background()

	require.NoError(t, acct.AddCredit(ctx, "P1", rm(300), "receipt-42", "bank transfer"))

	c, err := mem.GetCredit(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, c.Transactions, 1)
	tx := c.Transactions[0]
	assert.Equal(t, ledger.CreditPayment, tx.Type)
	assert.Equal(t, "receipt-42", tx.ReceiptID)
	assert.Equal(t, "bank transfer", tx.Description)
	assert.Equal(t, today, tx.Date)
	assert.NotEmpty(t, tx.ID)
}

func TestCredit_NonPositiveAmounts_Rejected(t *testing.T) {
	acct, _ := newTestCreditAccount()
	ctx := context.Background()

	assert.ErrorIs(t, acct.AddCredit(ctx, "P1", rm(0), "", ""), ledger.ErrInvalidAmount)
	assert.ErrorIs(t, acct.Adjust(ctx, "P1", rm(-5), "", ""), ledger.ErrInvalidAmount)
	_, err := acct.UseCredit(ctx, "P1", rm(0), "2025-08", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingCredits rejects every UpdateCredit after running fn, as if the write failed.
type failingCredits struct {
	*store.Memory
}

func (f failingCredits) UpdateCredit(ctx context.Context, id ledger.ParticipantID, fn func(*ledger.ParticipantCredit) error) error {
	return f.Memory.UpdateCredit(ctx, id, func(c *ledger.ParticipantCredit) error {
		if err := fn(c); err != nil {
			return err
		}
		return errors.New("disk full")
	})
}

func TestCredit_FailedWrite_NoPartialMutation(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	good := ledger.NewCreditAccount(mem, testConfig())
	require.NoError(t, good.AddCredit(ctx, "P1", rm(200), "r1", "seed"))

	bad := ledger.NewCreditAccount(failingCredits{mem}, testConfig())
	err := bad.AddCredit(ctx, "P1", rm(100), "r2", "lost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPersistence)

	ok, err := bad.UseCredit(ctx, "P1", rm(100), "2025-08", "lost")
	require.Error(t, err)
	assert.False(t, ok)

	c, _ := mem.GetCredit(ctx, "P1")
	requireMoney(t, 200, c.Balance)
	assert.Len(t, c.Transactions, 1)
	assert.NoError(t, c.Verify())
}

// =============================================================================
// ROLLOVER ARITHMETIC
// =============================================================================

func TestPrepaidMonths(t *testing.T) {
	tests := []struct {
		balance int64
		want    int
	}{
		{0, 0}, {99, 0}, {100, 1}, {250, 2}, {800, 8}, {-100, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.PrepaidMonths(rm(tt.balance), rm(100)), "balance %d", tt.balance)
	}
	assert.Equal(t, 0, ledger.PrepaidMonths(rm(500), rm(0)), "zero tariff never divides")
}

func TestNextUnpaidMonth(t *testing.T) {
	sched := ledger.DefaultSchedule()

	next, ok := ledger.NextUnpaidMonth(rm(0), rm(100), "2025-08", sched)
	assert.True(t, ok)
	assert.Equal(t, ledger.Month("2025-09"), next)

	next, ok = ledger.NextUnpaidMonth(rm(250), rm(100), "2025-08", sched)
	assert.True(t, ok)
	assert.Equal(t, ledger.Month("2025-11"), next, "two prepaid months roll forward past 09 and 10")

	_, ok = ledger.NextUnpaidMonth(rm(600), rm(100), "2025-10", sched)
	assert.False(t, ok, "credit that runs past the schedule caps at the end")

	_, ok = ledger.NextUnpaidMonth(rm(100), rm(100), "2024-01", sched)
	assert.False(t, ok, "unscheduled current month")
}
