/*
Copyright 2025 WattVault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

const transactionColumns = `transaction_id, transaction_code, balance_id, kind, amount, fee, net_amount, balance_before, balance_after, currency, asset_type, status, idempotency_key, COALESCE(batch_id, ''), COALESCE(reference_kind, ''), COALESCE(reference_id, ''), COALESCE(description, ''), is_reversible, COALESCE(reversal_of, ''), COALESCE(reversal_id, ''), reversed_at, is_reconciled, reconciled_at, COALESCE(external_ref, ''), hash, created_at, processed_at, meta_data`

func scanTransaction(row interface{ Scan(dest ...interface{}) error }) (*model.Transaction, error) {
	txn := model.Transaction{}
	var metaDataJSON []byte
	var refKind, refID string
	var reversedAt, reconciledAt, processedAt sql.NullTime
	err := row.Scan(
		&txn.TransactionID, &txn.TransactionCode, &txn.BalanceID, &txn.Kind,
		&txn.Amount, &txn.Fee, &txn.NetAmount, &txn.BalanceBefore, &txn.BalanceAfter,
		&txn.Currency, &txn.AssetType, &txn.Status, &txn.IdempotencyKey,
		&txn.BatchID, &refKind, &refID, &txn.Description,
		&txn.IsReversible, &txn.ReversalOf, &txn.ReversalID, &reversedAt,
		&txn.IsReconciled, &reconciledAt, &txn.ExternalRef, &txn.Hash,
		&txn.CreatedAt, &processedAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}
	if refKind != "" {
		ref, err := model.CausingRefFrom(refKind, refID)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Stored causing reference is invalid", err)
		}
		txn.Reference = ref
	}
	if reversedAt.Valid {
		txn.ReversedAt = &reversedAt.Time
	}
	if reconciledAt.Valid {
		txn.ReconciledAt = &reconciledAt.Time
	}
	if processedAt.Valid {
		txn.ProcessedAt = &processedAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal transaction metadata", err)
		}
	}
	return &txn, nil
}

func insertTransactionTx(ctx context.Context, tx *sql.Tx, txn *model.Transaction) error {
	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	refKind, refID := model.RefColumns(txn.Reference)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wattvault.transactions
			(transaction_id, transaction_code, balance_id, kind, amount, fee, net_amount, balance_before, balance_after, currency, asset_type, status, idempotency_key, batch_id, reference_kind, reference_id, description, is_reversible, reversal_of, is_reconciled, external_ref, hash, created_at, processed_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, txn.TransactionID, txn.TransactionCode, txn.BalanceID, txn.Kind,
		txn.Amount, txn.Fee, txn.NetAmount, txn.BalanceBefore, txn.BalanceAfter,
		txn.Currency, txn.AssetType, txn.Status, txn.IdempotencyKey, txn.BatchID,
		refKind, refID, txn.Description, txn.IsReversible, txn.ReversalOf,
		txn.IsReconciled, txn.ExternalRef, txn.Hash, txn.CreatedAt, txn.ProcessedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction with idempotency key '%s' already exists on balance '%s'", txn.IdempotencyKey, txn.BalanceID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}
	return nil
}

// RecordTransaction inserts a single prepared transaction row. Most callers
// want ApplyLegs instead, which also moves the balances in the same database
// transaction.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertTransactionTx(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM wattvault.transactions
		WHERE transaction_id = $1
	`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

// GetTransactionByIdempotencyKey looks up a previously applied transaction by
// its retry identity. The ledger engine answers duplicate submissions with
// this stored row instead of applying twice.
func (d Datasource) GetTransactionByIdempotencyKey(ctx context.Context, balanceID, key string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM wattvault.transactions
		WHERE balance_id = $1 AND idempotency_key = $2
	`, balanceID, key)
	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No transaction with idempotency key '%s' on balance '%s'", key, balanceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransactionsForBalance(ctx context.Context, balanceID string, limit, offset int) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM wattvault.transactions
		WHERE balance_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, balanceID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	transactions := []*model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction row", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating transaction rows", err)
	}
	return transactions, nil
}

// ApplyLegs commits a set of transaction legs and their balance updates as
// one database transaction. Either every leg lands and every balance moves,
// or nothing does. Balance updates use the optimistic version check, so a
// concurrent writer on any involved balance aborts the whole set with
// CONCURRENCY_CONFLICT and the caller retries from fresh reads.
func (d Datasource) ApplyLegs(ctx context.Context, txns []*model.Transaction, balances []*model.Balance) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, txn := range txns {
		if err := insertTransactionTx(ctx, tx, txn); err != nil {
			return err
		}
	}
	for _, balance := range balances {
		if err := updateBalanceTx(ctx, tx, balance); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

// LinkReversal marks the original transaction as reversed and points it at
// its reversal. Both directions of the link are stored so either row resolves
// the other without a second query.
func (d Datasource) LinkReversal(ctx context.Context, originalID, reversalID string, at time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.transactions
		SET reversal_id = $2, reversed_at = $3
		WHERE transaction_id = $1 AND reversal_id IS NULL
	`, originalID, reversalID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to link reversal", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		var linked bool
		err := d.Conn.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM wattvault.transactions WHERE transaction_id = $1 AND reversal_id = $2)
		`, originalID, reversalID).Scan(&linked)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check reversal link", err)
		}
		if linked {
			return nil
		}
		return apierror.NewAPIError(apierror.ErrReversalNotAllowed, fmt.Sprintf("Transaction '%s' is already reversed or does not exist", originalID), nil)
	}
	return nil
}
