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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

func TestFreezeBalance_RequiresAdmin(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	err := vault.FreezeBalance(operatorCtx(), "bln_1")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrForbidden, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFreezeBalance_SetsTheFlag(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectExec("UPDATE wattvault.balances").
		WithArgs("bln_1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := vault.FreezeBalance(adminCtx(), "bln_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Freezing must bump the balance version so an in-flight optimistic update
// loses its compare-and-set and re-reads the freeze state instead of writing
// the stale flag back.
func TestFreezeBalance_InvalidatesInFlightWriters(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectExec(`UPDATE wattvault.balances SET frozen = \$2, version = version \+ 1 WHERE balance_id = \$1`).
		WithArgs("bln_1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := vault.FreezeBalance(adminCtx(), "bln_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceByIdentity_CreatesOnFirstTouch(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WillReturnRows(sqlmock.NewRows([]string{"balance_id"}))
	mock.ExpectExec("INSERT INTO wattvault.balances").
		WillReturnResult(sqlmock.NewResult(1, 1))

	balance, err := vault.GetBalanceByIdentity(context.Background(), model.BalanceIdentity{
		OwnerID:   "usr_9",
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
	})
	assert.NoError(t, err)
	assert.Contains(t, balance.BalanceID, "bln_")
	assert.True(t, balance.Amount.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceByIdentity_SecondLookupHitsTheCache(t *testing.T) {
	vault, mock := newTestVault(t, nil)

	identity := model.BalanceIdentity{
		OwnerID:   "usr_9",
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
	}
	created := &model.Balance{
		BalanceID: "bln_9",
		OwnerID:   "usr_9",
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
		Amount:    model.Zero(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WillReturnRows(balanceRows(created))

	first, err := vault.GetBalanceByIdentity(context.Background(), identity)
	assert.NoError(t, err)

	// The cached identity resolves straight to a lookup by ID.
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_9").
		WillReturnRows(balanceRows(created))

	second, err := vault.GetBalanceByIdentity(context.Background(), identity)
	assert.NoError(t, err)
	assert.Equal(t, first.BalanceID, second.BalanceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
