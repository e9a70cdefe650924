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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

func balanceRows(balance *model.Balance) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"balance_id", "owner_id", "asset_type", "currency", "amount", "frozen",
		"allow_overdraft", "daily_limit", "monthly_limit", "version",
		"last_transaction_at", "created_at", "meta_data",
	}).AddRow(
		balance.BalanceID, balance.OwnerID, balance.AssetType, balance.Currency,
		balance.Amount.String(), balance.Frozen, balance.AllowOverdraft,
		balance.DailyLimit.String(), balance.MonthlyLimit.String(), balance.Version,
		nil, balance.CreatedAt, []byte(`{}`),
	)
}

func TestCreateBalance_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	balance := model.Balance{
		OwnerID:   "usr_" + gofakeit.UUID(),
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
		Amount:    model.Zero(),
	}

	mock.ExpectExec("INSERT INTO wattvault.balances").
		WithArgs(sqlmock.AnyArg(), balance.OwnerID, balance.AssetType, balance.Currency,
			sqlmock.AnyArg(), false, false, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	createdBalance, err := ds.CreateBalance(context.Background(), balance)
	assert.NoError(t, err)
	assert.NotEmpty(t, createdBalance.BalanceID)
	assert.Contains(t, createdBalance.BalanceID, "bln_")
	assert.WithinDuration(t, time.Now(), createdBalance.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBalance_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO wattvault.balances").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = ds.CreateBalance(context.Background(), model.Balance{
		OwnerID:   "usr_1",
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
	})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
}

func TestGetBalanceByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_missing").
		WillReturnRows(sqlmock.NewRows([]string{"balance_id"}))

	_, err = ds.GetBalanceByID(context.Background(), "bln_missing")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}

func TestGetOrCreateBalance_LosesInsertRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	identity := model.BalanceIdentity{OwnerID: "usr_1", AssetType: model.AssetEnergyKWH, Currency: "KWH"}

	winner := &model.Balance{
		BalanceID: "bln_winner",
		OwnerID:   identity.OwnerID,
		AssetType: identity.AssetType,
		Currency:  identity.Currency,
		Amount:    model.Zero(),
		DailyLimit:   model.Zero(),
		MonthlyLimit: model.Zero(),
		CreatedAt: time.Now(),
	}

	// First read misses, the insert collides with a concurrent creator, the
	// re-read returns the winner's row.
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs(identity.OwnerID, identity.AssetType, identity.Currency).
		WillReturnRows(sqlmock.NewRows([]string{"balance_id"}))
	mock.ExpectExec("INSERT INTO wattvault.balances").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs(identity.OwnerID, identity.AssetType, identity.Currency).
		WillReturnRows(balanceRows(winner))

	balance, err := ds.GetOrCreateBalance(context.Background(), identity)
	assert.NoError(t, err)
	assert.Equal(t, "bln_winner", balance.BalanceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBalance_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	balance := &model.Balance{
		BalanceID: "bln_1",
		Amount:    decimal.NewFromInt(100),
		Version:   3,
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.UpdateBalance(context.Background(), balance)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrConcurrencyConflict, apierror.CodeOf(err))
	assert.Equal(t, int64(3), balance.Version)
}

func TestUpdateBalance_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	balance := &model.Balance{
		BalanceID: "bln_1",
		Amount:    decimal.NewFromInt(58),
		Version:   3,
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.UpdateBalance(context.Background(), balance)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), balance.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumDebitsSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("142.50"))

	total, err := ds.SumDebitsSince(context.Background(), "bln_1", time.Now().Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("142.50")))
}
