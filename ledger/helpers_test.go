package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/surau/korban-ledger/ledger"
	"github.com/surau/korban-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// today is mid-October 2025: 2025-08 is 2 months overdue, 2025-09 is 1.
var today = time.Date(2025, time.October, 15, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return today }

func testConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.Now = fixedClock
	return cfg
}

func rm(v int64) ledger.Money { return ledger.NewMoney(v) }

func months(ms ...string) []ledger.Month {
	out := make([]ledger.Month, len(ms))
	for i, m := range ms {
		out[i] = ledger.Month(m)
	}
	return out
}

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	return newEngineWithConfig(t, testConfig())
}

func newEngineWithConfig(t *testing.T, cfg ledger.Config) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewEngine(mem, cfg, nil), mem
}

func addParticipant(t *testing.T, mem *store.Memory, id string, st ledger.SacrificeType) ledger.Participant {
	t.Helper()
	p := ledger.Participant{ID: ledger.ParticipantID(id), Name: "Peserta " + id, SacrificeType: st}
	_, err := mem.CreateParticipant(context.Background(), p)
	require.NoError(t, err)
	return p
}

func requireMoney(t *testing.T, want int64, got ledger.Money) {
	t.Helper()
	require.Truef(t, got.Equal(rm(want)), "expected %d, got %s", want, got)
}
