package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/core"
	"ricorrenze/internal/sheets/memory"
	"ricorrenze/internal/storage"
)

func setup(t *testing.T, occurrences int) (*storage.SQLiteRepository, []core.GeneratedTransaction) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	rule, err := repo.CreateRule(ctx, core.RecurringRule{
		ID:          "rule-1",
		OwnerID:     "owner-1",
		Amount:      core.Money{Cents: 1299},
		Description: "Streaming",
		CategoryID:  "svago",
		Type:        core.Expense,
		Interval:    core.Weekly,
		StartDate:   civil.Date{Year: 2024, Month: time.March, Day: 4},
		End:         core.Never(),
		State:       core.NewRuleState(),
	})
	require.NoError(t, err)

	var txs []core.GeneratedTransaction
	for i := range occurrences {
		on := rule.StartDate.AddDays(7 * i)
		next := rule.State
		next.LastGenerated = mo.Some(on)
		next.Generated++
		var tx core.GeneratedTransaction
		rule, tx, err = repo.CommitMaterialization(ctx, rule, next, rule.Snapshot("tx-"+on.String(), on))
		require.NoError(t, err)
		txs = append(txs, tx)
	}
	return repo, txs
}

func syncStatus(t *testing.T, repo *storage.SQLiteRepository, id string) string {
	t.Helper()
	_, status, err := repo.GetTransactionForSync(context.Background(), id)
	require.NoError(t, err)
	return status
}

func TestHandleSyncMessage(t *testing.T) {
	repo, txs := setup(t, 1)
	store := memory.New()
	w := NewSyncWorker(repo, store, 10)
	ctx := context.Background()

	msg := amqp.NewOccurrenceSyncMessage(txs[0], 2)
	require.NoError(t, w.HandleSyncMessage(ctx, msg))

	assert.Equal(t, storage.SyncSynced, syncStatus(t, repo, txs[0].ID))
	rows := store.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-03-04", rows[0][0])
	assert.Equal(t, "-12.99", rows[0][2])

	// A redelivered message does not export the row again.
	store.FailWith(errors.New("must not be called"))
	require.NoError(t, w.HandleSyncMessage(ctx, msg))
	assert.Len(t, store.Rows(), 1)
}

func TestHandleSyncMessage_DeletedTransaction(t *testing.T) {
	repo, _ := setup(t, 0)
	w := NewSyncWorker(repo, memory.New(), 10)

	msg := &amqp.OccurrenceSyncMessage{TransactionID: "gone", RuleID: "rule-1"}
	assert.NoError(t, w.HandleSyncMessage(context.Background(), msg))
}

func TestHandleSyncMessage_SheetsFailure(t *testing.T) {
	repo, txs := setup(t, 1)
	store := memory.New()
	store.FailWith(errors.New("quota exceeded"))
	w := NewSyncWorker(repo, store, 10)

	err := w.HandleSyncMessage(context.Background(), amqp.NewOccurrenceSyncMessage(txs[0], 2))
	require.Error(t, err)
	assert.Equal(t, storage.SyncError, syncStatus(t, repo, txs[0].ID))

	// The pending scan picks failed exports up again.
	store.FailWith(nil)
	synced, err := w.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Equal(t, storage.SyncSynced, syncStatus(t, repo, txs[0].ID))
}

func TestProcessPending_RespectsLimit(t *testing.T) {
	repo, txs := setup(t, 5)
	store := memory.New()
	w := NewSyncWorker(repo, store, 2)
	ctx := context.Background()

	synced, err := w.ProcessPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.Len(t, store.Rows(), 2)

	require.NoError(t, w.StartupSyncCheck(ctx))
	assert.Len(t, store.Rows(), len(txs))
	for _, tx := range txs {
		assert.Equal(t, storage.SyncSynced, syncStatus(t, repo, tx.ID))
	}

	synced, err = w.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, synced)
}
