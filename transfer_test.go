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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

func TestTransfer_FeeRidesOnTheCreditLeg(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	source := cashBalance("bln_src", 100)
	destination := cashBalance("bln_dst", 50)
	destination.OwnerID = "usr_2"

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(source))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(destination))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_src", "tr-1-out").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(cashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(cashBalance("bln_dst", 50)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_src",
		DestinationBalanceID: "bln_dst",
		Amount:               decimal.NewFromInt(40),
		Fee:                  decimal.NewFromInt(2),
		Currency:             "USD",
		IdempotencyKey:       "tr-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, model.KindTransferOut, result.Debit.Kind)
	assert.Equal(t, model.KindTransferIn, result.Credit.Kind)
	// Source loses exactly the amount; the destination receives it net of fee.
	assert.True(t, result.Debit.BalanceAfter.Equal(decimal.NewFromInt(60)))
	assert.True(t, result.Credit.BalanceAfter.Equal(decimal.NewFromInt(88)))
	assert.True(t, result.Debit.Fee.IsZero())
	assert.Equal(t, result.Debit.BatchID, result.Credit.BatchID)
	assert.Equal(t, result.BatchID, result.Debit.BatchID)
	assert.Equal(t, "tr-1-out", result.Debit.IdempotencyKey)
	assert.Equal(t, "tr-1-in", result.Credit.IdempotencyKey)
	assert.Contains(t, result.Debit.TransactionCode, "TXC-")
	assert.NotEqual(t, result.Debit.TransactionCode, result.Credit.TransactionCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_CallerSuppliedBatchIDIsHonored(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	source := cashBalance("bln_src", 100)
	destination := cashBalance("bln_dst", 50)
	destination.OwnerID = "usr_2"

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(source))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(destination))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_src", "tr-7-out").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(cashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(cashBalance("bln_dst", 50)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_src",
		DestinationBalanceID: "bln_dst",
		Amount:               decimal.NewFromInt(10),
		Currency:             "USD",
		IdempotencyKey:       "tr-7",
		BatchID:              "bat_settlement_42",
	})
	assert.NoError(t, err)
	assert.Equal(t, "bat_settlement_42", result.BatchID)
	assert.Equal(t, "bat_settlement_42", result.Debit.BatchID)
	assert.Equal(t, "bat_settlement_42", result.Credit.BatchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_ReplayReturnsStoredLegs(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	debit := &model.Transaction{
		TransactionID:  "txn_out",
		BalanceID:      "bln_src",
		Kind:           model.KindTransferOut,
		Amount:         decimal.NewFromInt(40),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "tr-1-out",
		BatchID:        "bat_1",
		CreatedAt:      time.Now(),
	}
	credit := &model.Transaction{
		TransactionID:  "txn_in",
		BalanceID:      "bln_dst",
		Kind:           model.KindTransferIn,
		Amount:         decimal.NewFromInt(40),
		Fee:            decimal.NewFromInt(2),
		Currency:       "USD",
		AssetType:      model.AssetCashWallet,
		Status:         model.StatusCompleted,
		IdempotencyKey: "tr-1-in",
		BatchID:        "bat_1",
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(cashBalance("bln_src", 60)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(cashBalance("bln_dst", 88)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_src", "tr-1-out").
		WillReturnRows(transactionRows(debit))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_dst", "tr-1-in").
		WillReturnRows(transactionRows(credit))

	result, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_src",
		DestinationBalanceID: "bln_dst",
		Amount:               decimal.NewFromInt(40),
		Fee:                  decimal.NewFromInt(2),
		Currency:             "USD",
		IdempotencyKey:       "tr-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "txn_out", result.Debit.TransactionID)
	assert.Equal(t, "txn_in", result.Credit.TransactionID)
	assert.Equal(t, "bat_1", result.BatchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_CurrencyMismatch(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	source := cashBalance("bln_src", 100)
	destination := cashBalance("bln_dst", 50)
	destination.Currency = "EUR"

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(source))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(destination))

	_, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_src",
		DestinationBalanceID: "bln_dst",
		Amount:               decimal.NewFromInt(40),
		Currency:             "USD",
		IdempotencyKey:       "tr-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrCurrencyMismatch, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_FeeMustBeLessThanAmount(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(cashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(cashBalance("bln_dst", 50)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_src", "tr-1-out").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(cashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(cashBalance("bln_dst", 50)))

	_, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_src",
		DestinationBalanceID: "bln_dst",
		Amount:               decimal.NewFromInt(10),
		Fee:                  decimal.NewFromInt(10),
		Currency:             "USD",
		IdempotencyKey:       "tr-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidAmount, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_SameBalanceRejected(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	_, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_1",
		DestinationBalanceID: "bln_1",
		Amount:               decimal.NewFromInt(10),
		Currency:             "USD",
		IdempotencyKey:       "tr-1",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_CreditLegFailureLeavesNoDebit(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	source := cashBalance("bln_src", 100)
	destination := cashBalance("bln_dst", 50)
	destination.OwnerID = "usr_2"

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(source))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(destination))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_src", "tr-9-out").
		WillReturnRows(emptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(balanceRows(cashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(balanceRows(cashBalance("bln_dst", 50)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := vault.Transfer(context.Background(), &TransferRequest{
		SourceBalanceID:      "bln_src",
		DestinationBalanceID: "bln_dst",
		Amount:               decimal.NewFromInt(40),
		Currency:             "USD",
		IdempotencyKey:       "tr-9",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInternalServer, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
