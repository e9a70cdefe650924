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
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

const walletColumns = `wallet_tx_id, transaction_id, token_type, state, expires_at, locked_until, COALESCE(source_balance_id, ''), source_amount, COALESCE(source_token_type, ''), requires_approval, COALESCE(approved_by, ''), approved_at, created_at`

func scanWalletTransaction(row interface{ Scan(dest ...interface{}) error }) (*model.WalletTransaction, error) {
	wtx := model.WalletTransaction{}
	var expiresAt, lockedUntil, approvedAt sql.NullTime
	err := row.Scan(
		&wtx.WalletTxID, &wtx.TransactionID, &wtx.TokenType, &wtx.State,
		&expiresAt, &lockedUntil, &wtx.SourceBalanceID, &wtx.SourceAmount,
		&wtx.SourceTokenType, &wtx.RequiresApproval, &wtx.ApprovedBy,
		&approvedAt, &wtx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		wtx.ExpiresAt = &expiresAt.Time
	}
	if lockedUntil.Valid {
		wtx.LockedUntil = &lockedUntil.Time
	}
	if approvedAt.Valid {
		wtx.ApprovedAt = &approvedAt.Time
	}
	return &wtx, nil
}

// RecordWalletTransaction inserts the token layer row for an already applied
// ledger transaction.
func (d Datasource) RecordWalletTransaction(ctx context.Context, wtx *model.WalletTransaction) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO wattvault.wallet_transactions
			(wallet_tx_id, transaction_id, token_type, state, expires_at, locked_until, source_balance_id, source_amount, source_token_type, requires_approval, approved_by, approved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, wtx.WalletTxID, wtx.TransactionID, wtx.TokenType, wtx.State,
		wtx.ExpiresAt, wtx.LockedUntil, wtx.SourceBalanceID, wtx.SourceAmount,
		wtx.SourceTokenType, wtx.RequiresApproval, wtx.ApprovedBy, wtx.ApprovedAt, wtx.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Wallet transaction '%s' already exists", wtx.WalletTxID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record wallet transaction", err)
	}
	return nil
}

func (d Datasource) GetWalletTransaction(ctx context.Context, id string) (*model.WalletTransaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wattvault.wallet_transactions
		WHERE wallet_tx_id = $1
	`, id)
	wtx, err := scanWalletTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet transaction", err)
	}
	return wtx, nil
}

// GetWalletTransactionByLedgerTxn resolves the wallet layer of a ledger
// transaction, when one exists.
func (d Datasource) GetWalletTransactionByLedgerTxn(ctx context.Context, transactionID string) (*model.WalletTransaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wattvault.wallet_transactions
		WHERE transaction_id = $1
	`, transactionID)
	wtx, err := scanWalletTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No wallet transaction for ledger transaction '%s'", transactionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet transaction", err)
	}
	return wtx, nil
}

// UpdateWalletTransactionState moves a wallet transaction between lifecycle
// states. The current state is part of the WHERE clause, so a stale caller
// cannot clobber a transition that already happened. Re-applying a transition
// that already took place reports CONFLICT and leaves the row untouched.
func (d Datasource) UpdateWalletTransactionState(ctx context.Context, id, from, to string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.wallet_transactions
		SET state = $3
		WHERE wallet_tx_id = $1 AND state = $2
	`, id, from, to)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update wallet transaction state", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Wallet transaction '%s' is not in state '%s'", id, from), nil)
	}
	return nil
}

func (d Datasource) ApproveWalletTransaction(ctx context.Context, id, approver string, at time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.wallet_transactions
		SET approved_by = $2, approved_at = $3
		WHERE wallet_tx_id = $1 AND requires_approval = TRUE AND approved_at IS NULL
	`, id, approver, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to approve wallet transaction", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Wallet transaction '%s' does not need approval or is already approved", id), nil)
	}
	return nil
}

// GetWalletTransactionsDueForExpiry returns wallet transactions whose expiry
// instant has passed and that have not yet been swept. Ordered oldest first
// so repeated sweeps drain the backlog deterministically.
func (d Datasource) GetWalletTransactionsDueForExpiry(ctx context.Context, asOf time.Time, batchSize int) ([]*model.WalletTransaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+walletColumns+`
		FROM wattvault.wallet_transactions
		WHERE state != $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, model.WalletStateExpired, asOf, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expirable wallet transactions", err)
	}
	defer rows.Close()
	return collectWalletTransactions(rows)
}

// GetWalletTransactionsDueForUnlock returns locked wallet transactions whose
// lock window has lapsed.
func (d Datasource) GetWalletTransactionsDueForUnlock(ctx context.Context, asOf time.Time, batchSize int) ([]*model.WalletTransaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+walletColumns+`
		FROM wattvault.wallet_transactions
		WHERE state = $1 AND locked_until IS NOT NULL AND locked_until <= $2
		ORDER BY locked_until ASC
		LIMIT $3
	`, model.WalletStateLocked, asOf, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unlockable wallet transactions", err)
	}
	defer rows.Close()
	return collectWalletTransactions(rows)
}

func collectWalletTransactions(rows *sql.Rows) ([]*model.WalletTransaction, error) {
	wtxs := []*model.WalletTransaction{}
	for rows.Next() {
		wtx, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan wallet transaction row", err)
		}
		wtxs = append(wtxs, wtx)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating wallet transaction rows", err)
	}
	return wtxs, nil
}
