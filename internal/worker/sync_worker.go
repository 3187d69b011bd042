package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/core"
	"ricorrenze/internal/sheets"
	"ricorrenze/internal/storage"
)

// SyncStore is the slice of the repository the sync worker needs.
type SyncStore interface {
	GetTransactionForSync(ctx context.Context, id string) (core.GeneratedTransaction, string, error)
	ListPendingSync(ctx context.Context, limit int) ([]core.GeneratedTransaction, error)
	MarkSynced(ctx context.Context, id string) error
	MarkSyncError(ctx context.Context, id string) error
}

// SyncWorker exports generated transactions from SQLite to the spreadsheet.
type SyncWorker struct {
	storage   SyncStore
	sheets    sheets.TransactionWriter
	batchSize int
}

func NewSyncWorker(storage SyncStore, sheets sheets.TransactionWriter, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{
		storage:   storage,
		sheets:    sheets,
		batchSize: batchSize,
	}
}

// HandleSyncMessage exports the transaction named by an AMQP message.
// Transactions already synced or deleted since are acknowledged silently.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.OccurrenceSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"transaction_id", msg.TransactionID,
		"rule_id", msg.RuleID,
		"rule_version", msg.RuleVersion)

	tx, status, err := w.storage.GetTransactionForSync(ctx, msg.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.InfoContext(ctx, "Transaction no longer exists, dropping sync message",
			"transaction_id", msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}
	if status == storage.SyncSynced {
		slog.DebugContext(ctx, "Transaction already synced", "transaction_id", tx.ID)
		return nil
	}

	if err := w.syncToSheets(ctx, tx); err != nil {
		return fmt.Errorf("sync transaction to sheets: %w", err)
	}
	return nil
}

// ProcessPending exports up to limit transactions that have not been synced.
// It backs up the AMQP path when messages are lost.
func (w *SyncWorker) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.storage.ListPendingSync(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	synced := 0
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := w.syncToSheets(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Failed to sync transaction", "transaction_id", tx.ID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// StartupSyncCheck drains a larger batch of pending transactions when the
// worker starts, to recover from downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	limit := w.batchSize * 5
	pending, err := w.storage.ListPendingSync(ctx, limit)
	if err != nil {
		return fmt.Errorf("get pending transactions for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	synced, err := w.ProcessPending(ctx, limit)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", len(pending)-synced)
	return nil
}

func (w *SyncWorker) syncToSheets(ctx context.Context, tx core.GeneratedTransaction) error {
	ref, err := w.sheets.Append(ctx, tx)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, tx.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "transaction_id", tx.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, tx.ID); err != nil {
		// The row is already exported; the next scan would append it again.
		slog.ErrorContext(ctx, "Failed to mark as synced", "transaction_id", tx.ID, "error", err)
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		"transaction_id", tx.ID,
		"rule_id", tx.RuleID,
		"sheets_ref", ref,
		"occurrence_date", tx.OccurrenceDate.String(),
		"amount_cents", tx.Amount.Cents)
	return nil
}
