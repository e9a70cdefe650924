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
	"fmt"
	"time"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

// ReconcileTransaction marks a completed transaction as matched against an
// external record. Returns false when the transaction was already reconciled;
// re-reconciling is a no-op, never an error, so settlement jobs can replay
// their batches safely.
func (d Datasource) ReconcileTransaction(ctx context.Context, transactionID, externalRef string, at time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.transactions
		SET is_reconciled = TRUE, reconciled_at = $2, external_ref = $3
		WHERE transaction_id = $1 AND is_reconciled = FALSE
	`, transactionID, at, externalRef)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reconcile transaction", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		// Either already reconciled or missing. Distinguish so a bad ID
		// still surfaces.
		var exists bool
		err := d.Conn.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM wattvault.transactions WHERE transaction_id = $1)
		`, transactionID).Scan(&exists)
		if err != nil {
			return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check transaction existence", err)
		}
		if !exists {
			return false, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", transactionID), nil)
		}
		return false, nil
	}
	return true, nil
}

// GetUnreconciledTransactions pages through completed, unreconciled
// transactions ordered by (created_at, transaction_id). The cursor is the
// transaction_id of the last row from the previous page; an empty cursor
// starts from the beginning of the window. Keyset pagination keeps the scan
// restartable even while new transactions keep arriving.
func (d Datasource) GetUnreconciledTransactions(ctx context.Context, since time.Time, cursor string, batchSize int) ([]*model.Transaction, error) {
	var args []interface{}
	query := `
		SELECT ` + transactionColumns + `
		FROM wattvault.transactions
		WHERE is_reconciled = FALSE AND status = $1 AND created_at >= $2`
	args = append(args, model.StatusCompleted, since)

	if cursor != "" {
		query += `
		AND (created_at, transaction_id) > (
			SELECT created_at, transaction_id FROM wattvault.transactions WHERE transaction_id = $3
		)`
		args = append(args, cursor)
		query += `
		ORDER BY created_at ASC, transaction_id ASC
		LIMIT $4`
	} else {
		query += `
		ORDER BY created_at ASC, transaction_id ASC
		LIMIT $3`
	}
	args = append(args, batchSize)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unreconciled transactions", err)
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
