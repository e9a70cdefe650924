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
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

const balanceColumns = `balance_id, owner_id, asset_type, currency, amount, frozen, allow_overdraft, daily_limit, monthly_limit, version, last_transaction_at, created_at, meta_data`

func scanBalance(row interface{ Scan(dest ...interface{}) error }) (*model.Balance, error) {
	balance := model.Balance{}
	var metaDataJSON []byte
	var lastTxnAt sql.NullTime
	err := row.Scan(
		&balance.BalanceID, &balance.OwnerID, &balance.AssetType, &balance.Currency,
		&balance.Amount, &balance.Frozen, &balance.AllowOverdraft,
		&balance.DailyLimit, &balance.MonthlyLimit, &balance.Version,
		&lastTxnAt, &balance.CreatedAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}
	if lastTxnAt.Valid {
		balance.LastTransactionAt = &lastTxnAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &balance.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal balance metadata", err)
		}
	}
	return &balance, nil
}

// CreateBalance inserts a new balance row. The (owner_id, asset_type,
// currency) tuple is unique; a second insert for the same tuple surfaces as a
// CONFLICT so callers can fall back to the existing row.
func (d Datasource) CreateBalance(ctx context.Context, balance model.Balance) (model.Balance, error) {
	metaDataJSON, err := json.Marshal(balance.MetaData)
	if err != nil {
		return model.Balance{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if balance.BalanceID == "" {
		balance.BalanceID = model.GenerateUUIDWithPrefix("bln")
	}
	if balance.CreatedAt.IsZero() {
		balance.CreatedAt = time.Now()
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO wattvault.balances (balance_id, owner_id, asset_type, currency, amount, frozen, allow_overdraft, daily_limit, monthly_limit, version, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)
	`, balance.BalanceID, balance.OwnerID, balance.AssetType, balance.Currency,
		balance.Amount, balance.Frozen, balance.AllowOverdraft,
		balance.DailyLimit, balance.MonthlyLimit, balance.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.Balance{}, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Balance already exists for %s", model.BalanceIdentity{OwnerID: balance.OwnerID, AssetType: balance.AssetType, Currency: balance.Currency}), err)
			default:
				return model.Balance{}, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return model.Balance{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create balance", err)
	}

	return balance, nil
}

// GetOrCreateBalance resolves the single balance row for the identity tuple,
// creating it on first touch. A concurrent first touch loses the insert race
// with a unique violation and re-reads the winner's row, so both callers end
// up with the same balance_id.
func (d Datasource) GetOrCreateBalance(ctx context.Context, identity model.BalanceIdentity) (*model.Balance, error) {
	// The identity to balance_id mapping is immutable once created, so it
	// can be cached indefinitely. The row itself is always read fresh.
	cacheKey := "balance:identity:" + identity.String()
	if d.Cache != nil {
		var balanceID string
		if err := d.Cache.Get(ctx, cacheKey, &balanceID); err == nil && balanceID != "" {
			return d.GetBalanceByID(ctx, balanceID)
		}
	}

	balance, err := d.resolveOrCreateBalance(ctx, identity)
	if err != nil {
		return nil, err
	}
	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, balance.BalanceID, 24*time.Hour); err != nil {
			logrus.Warnf("failed to cache balance identity %s: %v", identity.String(), err)
		}
	}
	return balance, nil
}

func (d Datasource) resolveOrCreateBalance(ctx context.Context, identity model.BalanceIdentity) (*model.Balance, error) {
	existing, err := d.GetBalanceByIdentity(ctx, identity)
	if err == nil {
		return existing, nil
	}
	if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, err
	}

	created, err := d.CreateBalance(ctx, model.Balance{
		OwnerID:   identity.OwnerID,
		AssetType: identity.AssetType,
		Currency:  identity.Currency,
		Amount:    model.Zero(),
	})
	if err == nil {
		return &created, nil
	}
	if apierror.CodeOf(err) == apierror.ErrConflict {
		return d.GetBalanceByIdentity(ctx, identity)
	}
	return nil, err
}

func (d Datasource) GetBalanceByID(ctx context.Context, id string) (*model.Balance, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM wattvault.balances
		WHERE balance_id = $1
	`, id)
	balance, err := scanBalance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balance", err)
	}
	return balance, nil
}

func (d Datasource) GetBalanceByIdentity(ctx context.Context, identity model.BalanceIdentity) (*model.Balance, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM wattvault.balances
		WHERE owner_id = $1 AND asset_type = $2 AND currency = $3
	`, identity.OwnerID, identity.AssetType, identity.Currency)
	balance, err := scanBalance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance for '%s' not found", identity), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balance", err)
	}
	return balance, nil
}

func (d Datasource) GetAllBalances(ctx context.Context, limit, offset int) ([]model.Balance, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+balanceColumns+`
		FROM wattvault.balances
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balances", err)
	}
	defer rows.Close()

	balances := []model.Balance{}
	for rows.Next() {
		balance, err := scanBalance(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan balance row", err)
		}
		balances = append(balances, *balance)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating balance rows", err)
	}
	return balances, nil
}

// UpdateBalance persists the balance amount under optimistic locking. The
// version in the WHERE clause must still match the version the balance was
// loaded with; zero rows affected means another writer got there first and
// the caller must reload and retry.
func (d Datasource) UpdateBalance(ctx context.Context, balance *model.Balance) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := updateBalanceTx(ctx, tx, balance); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func updateBalanceTx(ctx context.Context, tx *sql.Tx, balance *model.Balance) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wattvault.balances
		SET amount = $2, frozen = $3, allow_overdraft = $4, daily_limit = $5, monthly_limit = $6, last_transaction_at = $7, version = version + 1
		WHERE balance_id = $1 AND version = $8
	`, balance.BalanceID, balance.Amount, balance.Frozen, balance.AllowOverdraft,
		balance.DailyLimit, balance.MonthlyLimit, balance.LastTransactionAt, balance.Version)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConcurrencyConflict, fmt.Sprintf("Balance '%s' was modified by another writer", balance.BalanceID), nil)
	}

	balance.Version++
	return nil
}

// SetBalanceFrozen flips the freeze flag. Freezing blocks debits only; the
// ledger engine keeps accepting credits for frozen balances. The version bump
// invalidates any in-flight optimistic update, which re-reads the freeze
// state before retrying.
func (d Datasource) SetBalanceFrozen(ctx context.Context, id string, frozen bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.balances SET frozen = $2, version = version + 1 WHERE balance_id = $1
	`, id, frozen)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update freeze state", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance with ID '%s' not found", id), nil)
	}
	return nil
}

// SumDebitsSince totals the gross outflow (amount plus fee) of completed
// debit transactions on the balance since the given instant. The spend-limit
// checks in the ledger engine run on this.
func (d Datasource) SumDebitsSince(ctx context.Context, balanceID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount + fee), 0)
		FROM wattvault.transactions
		WHERE balance_id = $1 AND status = $2 AND kind IN ($3, $4, $5) AND created_at >= $6
	`, balanceID, model.StatusCompleted, model.KindExpense, model.KindTransferOut, model.KindAdjustmentDebit, since).Scan(&total)
	if err != nil {
		return model.Zero(), apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum debits", err)
	}
	return total, nil
}
