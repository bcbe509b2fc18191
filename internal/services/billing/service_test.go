package billing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	badgerstore "github.com/ternarybob/messor/internal/storage/badger"
)

func newTestService(t *testing.T, config *common.BillingConfig) (*Service, interfaces.LedgerStore) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "billing")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db := badgerstore.NewBadgerDBFromStore(store, arbor.NewLogger())
	ledger := badgerstore.NewLedgerStorage(db, arbor.NewLogger())
	return NewService(ledger, config, arbor.NewLogger()).(*Service), ledger
}

func enabledConfig(credits int) *common.BillingConfig {
	return &common.BillingConfig{Enabled: true, DefaultCredits: credits}
}

func TestBillTeamDebitsSeededLedger(t *testing.T) {
	svc, _ := newTestService(t, enabledConfig(100))
	ctx := context.Background()

	require.NoError(t, svc.BillTeam(ctx, "team-1", "sub-1", 30, nil))

	balance, err := svc.Balance(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 70, balance)
}

func TestBillTeamInsufficientCredits(t *testing.T) {
	svc, _ := newTestService(t, enabledConfig(10))
	ctx := context.Background()

	err := svc.BillTeam(ctx, "team-1", "sub-1", 25, nil)
	require.ErrorIs(t, err, interfaces.ErrInsufficientCredits)

	// A rejected charge must leave the balance untouched
	balance, err := svc.Balance(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestBillTeamExactBalance(t *testing.T) {
	svc, _ := newTestService(t, enabledConfig(5))
	ctx := context.Background()

	require.NoError(t, svc.BillTeam(ctx, "team-1", "", 5, nil))

	balance, err := svc.Balance(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	err = svc.BillTeam(ctx, "team-1", "", 1, nil)
	require.ErrorIs(t, err, interfaces.ErrInsufficientCredits)
}

func TestBillTeamDisabledIsNoOp(t *testing.T) {
	svc, ledger := newTestService(t, &common.BillingConfig{Enabled: false, DefaultCredits: 50})
	ctx := context.Background()

	require.NoError(t, svc.BillTeam(ctx, "team-1", "sub-1", 500, nil))

	// No ledger was created
	_, err := ledger.Balance(ctx, "team-1")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestBillTeamZeroUnitsAndMissingTeam(t *testing.T) {
	svc, ledger := newTestService(t, enabledConfig(50))
	ctx := context.Background()

	require.NoError(t, svc.BillTeam(ctx, "team-1", "", 0, nil))
	require.NoError(t, svc.BillTeam(ctx, "", "", 10, nil))

	_, err := ledger.Balance(ctx, "team-1")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestBalanceBeforeFirstCharge(t *testing.T) {
	svc, _ := newTestService(t, enabledConfig(1000))

	balance, err := svc.Balance(context.Background(), "fresh-team")
	require.NoError(t, err)
	assert.Equal(t, 1000, balance, "unbilled teams report the seed balance")
}

func TestBillTeamRecordsEvents(t *testing.T) {
	svc, ledger := newTestService(t, enabledConfig(100))
	ctx := context.Background()

	meta := map[string]string{"run_id": "crawl-abc", "kind": "crawl"}
	require.NoError(t, svc.BillTeam(ctx, "team-1", "sub-9", 40, meta))
	require.NoError(t, svc.BillTeam(ctx, "team-1", "sub-9", 20, nil))

	events, err := ledger.ListEvents(ctx, "team-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first
	assert.Equal(t, 20, events[0].Units)
	assert.Equal(t, 40, events[0].Remaining)
	assert.Equal(t, 40, events[1].Units)
	assert.Equal(t, 60, events[1].Remaining)
	assert.Equal(t, "crawl-abc", events[1].Metadata["run_id"])
	assert.Equal(t, "sub-9", events[1].SubscriptionID)
}

func TestLedgerCredit(t *testing.T) {
	svc, ledger := newTestService(t, enabledConfig(10))
	ctx := context.Background()

	require.NoError(t, svc.BillTeam(ctx, "team-1", "", 10, nil))

	remaining, err := ledger.Credit(ctx, "team-1", 15, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, remaining)

	require.NoError(t, svc.BillTeam(ctx, "team-1", "", 15, nil))
	balance, err := svc.Balance(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}
