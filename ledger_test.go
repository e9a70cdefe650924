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

package wattvault

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

func cashBalance(id string, amount int64) *model.Balance {
	return &model.Balance{
		BalanceID: id,
		OwnerID:   "usr_1",
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
		Amount:    decimal.NewFromInt(amount),
		Version:   3,
		CreatedAt: time.Now(),
	}
}

func TestApplyTransaction_DebitBearsFee(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 100)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	txn, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		Currency:       "USD",
		IdempotencyKey: "idem-1",
		Reference:      model.OrderRef{OrderID: "ord_1"},
	})
	assert.NoError(t, err)
	assert.Contains(t, txn.TransactionID, "txn_")
	assert.Contains(t, txn.TransactionCode, "TXC-")
	assert.Equal(t, model.StatusCompleted, txn.Status)
	assert.True(t, txn.SignedDelta().Equal(decimal.NewFromInt(-42)))
	assert.True(t, txn.BalanceBefore.Equal(decimal.NewFromInt(100)))
	assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(58)))
	assert.NotEmpty(t, txn.Hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_CreditReceivesAmountNetOfFee(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 10)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-2").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 10)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	txn, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindIncome,
		Amount:         decimal.NewFromInt(100),
		Fee:            decimal.NewFromInt(3),
		Currency:       "USD",
		IdempotencyKey: "idem-2",
	})
	assert.NoError(t, err)
	assert.True(t, txn.SignedDelta().Equal(decimal.NewFromInt(97)))
	assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(107)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_IdempotentReplayReturnsStoredRow(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	stored := &model.Transaction{
		TransactionID:  "txn_stored",
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "idem-1",
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 58)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(transactionRows(stored))

	txn, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		Currency:       "USD",
		IdempotencyKey: "idem-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "txn_stored", txn.TransactionID)
	// The balance was not touched again: no insert, no update.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_InsufficientFunds(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 30)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 30)))

	_, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		Currency:       "USD",
		IdempotencyKey: "idem-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInsufficientFunds, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_FrozenBalance(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	frozen := cashBalance("bln_1", 100)
	frozen.Frozen = true
	fresh := cashBalance("bln_1", 100)
	fresh.Frozen = true

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(frozen))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(fresh))

	_, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(10),
		Currency:       "USD",
		IdempotencyKey: "idem-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrFrozenBalance, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_DailySpendLimitExceeded(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	limited := cashBalance("bln_1", 1000)
	limited.DailyLimit = decimal.NewFromInt(50)
	fresh := cashBalance("bln_1", 1000)
	fresh.DailyLimit = decimal.NewFromInt(50)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(limited))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(fresh))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("20"))

	// 20 already spent today plus 40+2 breaches the 50 cap.
	_, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		Currency:       "USD",
		IdempotencyKey: "idem-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrSpendLimitExceeded, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_CurrencyMismatch(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 100)))

	_, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(10),
		Currency:       "EUR",
		IdempotencyKey: "idem-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrCurrencyMismatch, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_RequiresIdempotencyKey(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	_, err := vault.ApplyTransaction(context.Background(), &TransactionRequest{
		BalanceID: "bln_1",
		Kind:      model.KindExpense,
		Amount:    decimal.NewFromInt(10),
		Currency:  "USD",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReverseTransaction_RestoresOriginalBalance(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	original := &model.Transaction{
		TransactionID:  "txn_1",
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		NetAmount:      decimal.NewFromInt(-40),
		BalanceBefore:  decimal.NewFromInt(100),
		BalanceAfter:   decimal.NewFromInt(58),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "idem-1",
		IsReversible:   true,
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("txn_1").
		WillReturnRows(transactionRows(original))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "rev-txn_1").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(balanceRows(cashBalance("bln_1", 58)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	reversal, err := vault.ReverseTransaction(context.Background(), "txn_1")
	assert.NoError(t, err)
	assert.Equal(t, model.KindIncome, reversal.Kind)
	assert.True(t, reversal.Amount.Equal(decimal.NewFromInt(42)))
	assert.True(t, reversal.Fee.IsZero())
	assert.True(t, reversal.BalanceAfter.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "txn_1", reversal.ReversalOf)
	assert.False(t, reversal.IsReversible)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A crash between the reversal commit and the link leaves the original
// without reversal_id. Replaying the reversal must re-issue the link instead
// of just returning the stored row.
func TestReverseTransaction_ReplayRepairsTheMissingLink(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	original := &model.Transaction{
		TransactionID:  "txn_1",
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		NetAmount:      decimal.NewFromInt(-40),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "idem-1",
		IsReversible:   true,
		CreatedAt:      time.Now(),
	}
	stored := &model.Transaction{
		TransactionID:  "txn_2",
		BalanceID:      "bln_1",
		Kind:           model.KindIncome,
		Amount:         decimal.NewFromInt(42),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "rev-txn_1",
		ReversalOf:     "txn_1",
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("txn_1").
		WillReturnRows(transactionRows(original))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "rev-txn_1").
		WillReturnRows(transactionRows(stored))
	mock.ExpectExec("UPDATE wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	reversal, err := vault.ReverseTransaction(context.Background(), "txn_1")
	assert.NoError(t, err)
	assert.Equal(t, "txn_2", reversal.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// When another replay already restored the link, the repair is a no-op
// rather than a REVERSAL_NOT_ALLOWED failure.
func TestReverseTransaction_ReplayToleratesAnExistingLink(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	original := &model.Transaction{
		TransactionID:  "txn_1",
		BalanceID:      "bln_1",
		Kind:           model.KindExpense,
		Amount:         decimal.NewFromInt(40),
		NetAmount:      decimal.NewFromInt(-40),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "idem-1",
		IsReversible:   true,
		CreatedAt:      time.Now(),
	}
	stored := &model.Transaction{
		TransactionID:  "txn_2",
		BalanceID:      "bln_1",
		Kind:           model.KindIncome,
		Amount:         decimal.NewFromInt(40),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "rev-txn_1",
		ReversalOf:     "txn_1",
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("txn_1").
		WillReturnRows(transactionRows(original))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "rev-txn_1").
		WillReturnRows(transactionRows(stored))
	mock.ExpectExec("UPDATE wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("txn_1", "txn_2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	reversal, err := vault.ReverseTransaction(context.Background(), "txn_1")
	assert.NoError(t, err)
	assert.Equal(t, "txn_2", reversal.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReverseTransaction_RejectsReversalOfAReversal(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	reversalRow := &model.Transaction{
		TransactionID: "txn_2",
		BalanceID:     "bln_1",
		Kind:          model.KindIncome,
		Amount:        decimal.NewFromInt(42),
		Currency:      "USD",
		AssetType:     model.AssetCashWallet,
		Status:        model.StatusCompleted,
		ReversalOf:    "txn_1",
		CreatedAt:     time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("txn_2").
		WillReturnRows(transactionRows(reversalRow))

	_, err := vault.ReverseTransaction(context.Background(), "txn_2")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrReversalNotAllowed, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReverseTransaction_RejectsSecondReversal(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	reversed := &model.Transaction{
		TransactionID: "txn_1",
		BalanceID:     "bln_1",
		Kind:          model.KindExpense,
		Amount:        decimal.NewFromInt(40),
		Currency:      "USD",
		AssetType:     model.AssetCashWallet,
		Status:        model.StatusCompleted,
		IsReversible:  true,
		ReversalID:    "txn_2",
		CreatedAt:     time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("txn_1").
		WillReturnRows(transactionRows(reversed))

	_, err := vault.ReverseTransaction(context.Background(), "txn_1")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrReversalNotAllowed, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
