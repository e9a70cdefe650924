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

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattvault/wattvault"
	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/database"
	"github.com/wattvault/wattvault/internal/cache"
	"github.com/wattvault/wattvault/model"
)

// newTestRouter wires the full HTTP surface against a stub database and an
// in-process redis.
func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	newCache, err := cache.NewCache()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when creating the cache", err)
	}

	vault, err := wattvault.NewWattvault(&database.Datasource{Conn: db, Cache: newCache})
	if err != nil {
		t.Fatalf("Error creating Wattvault instance: %s", err)
	}
	return NewAPI(vault).Router(), mock
}

func performRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func apiCashBalance(id string, amount int64) *model.Balance {
	return &model.Balance{
		BalanceID: id,
		OwnerID:   "usr_1",
		AssetType: model.AssetCashWallet,
		Currency:  "USD",
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: time.Now(),
	}
}

func apiBalanceRows(balance *model.Balance) *sqlmock.Rows {
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

func apiEmptyTransactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"transaction_id"})
}

func apiPaymentRows(payment *model.Payment) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"payment_id", "owner_id", "amount", "fee", "net_amount", "currency",
		"method", "gateway", "external_tx_id", "invoice_id", "transaction_id",
		"status", "failure_reason", "created_at", "confirmed_at",
	}).AddRow(
		payment.PaymentID, payment.OwnerID, payment.Amount.String(),
		payment.Fee.String(), payment.NetAmount.String(), payment.Currency,
		payment.Method, payment.Gateway, payment.ExternalTxID,
		payment.InvoiceID, payment.TransactionID, payment.Status,
		payment.FailureReason, payment.CreatedAt, payment.ConfirmedAt,
	)
}

func TestRecordTransactionEndpoint_BooksAndReturns201(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(apiBalanceRows(apiCashBalance("bln_1", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_1", "idem-1").
		WillReturnRows(apiEmptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_1").
		WillReturnRows(apiBalanceRows(apiCashBalance("bln_1", 100)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wattvault.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE wattvault.balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recorder := performRequest(t, router, http.MethodPost, "/transactions", map[string]interface{}{
		"balance_id":      "bln_1",
		"kind":            "income",
		"amount":          "25",
		"currency":        "USD",
		"idempotency_key": "idem-1",
	})
	assert.Equal(t, http.StatusCreated, recorder.Code)

	var resp model.Transaction
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Contains(t, resp.TransactionID, "txn_")
	assert.Equal(t, model.StatusCompleted, resp.Status)
	assert.True(t, resp.BalanceAfter.Equal(decimal.NewFromInt(125)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransactionEndpoint_RejectsUnknownKind(t *testing.T) {
	router, mock := newTestRouter(t)

	recorder := performRequest(t, router, http.MethodPost, "/transactions", map[string]interface{}{
		"balance_id":      "bln_1",
		"kind":            "teleport",
		"amount":          "25",
		"idempotency_key": "idem-1",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransactionEndpoint_RequiresIdempotencyKey(t *testing.T) {
	router, mock := newTestRouter(t)

	recorder := performRequest(t, router, http.MethodPost, "/transactions", map[string]interface{}{
		"balance_id": "bln_1",
		"kind":       "income",
		"amount":     "25",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionEndpoint_UnknownIDIs404(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("txn_missing").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}))

	recorder := performRequest(t, router, http.MethodGet, "/transactions/txn_missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferEndpoint_HonorsCallerBatchID(t *testing.T) {
	router, mock := newTestRouter(t)

	destination := apiCashBalance("bln_dst", 50)
	destination.OwnerID = "usr_2"

	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(apiBalanceRows(apiCashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(apiBalanceRows(destination))
	mock.ExpectQuery("SELECT .* FROM wattvault.transactions").
		WithArgs("bln_src", "tr-1-out").
		WillReturnRows(apiEmptyTransactionRows())
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_src").
		WillReturnRows(apiBalanceRows(apiCashBalance("bln_src", 100)))
	mock.ExpectQuery("SELECT .* FROM wattvault.balances").
		WithArgs("bln_dst").
		WillReturnRows(apiBalanceRows(apiCashBalance("bln_dst", 50)))
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

	recorder := performRequest(t, router, http.MethodPost, "/transfers", map[string]interface{}{
		"source_balance_id":      "bln_src",
		"destination_balance_id": "bln_dst",
		"amount":                 "40",
		"fee":                    "2",
		"currency":               "USD",
		"idempotency_key":        "tr-1",
		"batch_id":               "bat_settlement_42",
	})
	assert.Equal(t, http.StatusCreated, recorder.Code)

	var resp wattvault.TransferResult
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "bat_settlement_42", resp.BatchID)
	assert.Equal(t, model.KindTransferOut, resp.Debit.Kind)
	assert.True(t, resp.Credit.BalanceAfter.Equal(decimal.NewFromInt(88)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransferEndpoint_RequiresSourceBalance(t *testing.T) {
	router, mock := newTestRouter(t)

	recorder := performRequest(t, router, http.MethodPost, "/transfers", map[string]interface{}{
		"destination_balance_id": "bln_dst",
		"amount":                 "40",
		"currency":               "USD",
		"idempotency_key":        "tr-1",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRefundEndpoint_LargeRefundWaitsForApproval(t *testing.T) {
	router, mock := newTestRouter(t)

	payment := &model.Payment{
		PaymentID: "pay_1",
		OwnerID:   "usr_1",
		Amount:    decimal.NewFromInt(100),
		Fee:       decimal.NewFromInt(2),
		NetAmount: decimal.NewFromInt(98),
		Currency:  "USD",
		Gateway:   "default",
		Status:    model.PaymentCompleted,
		CreatedAt: time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM wattvault.payments").
		WithArgs("pay_1").
		WillReturnRows(apiPaymentRows(payment))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("pay_1", model.RefundCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("0"))
	mock.ExpectExec("INSERT INTO wattvault.refunds").
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorder := performRequest(t, router, http.MethodPost, "/refunds", map[string]interface{}{
		"payment_id": "pay_1",
		"amount":     "80",
		"reason":     "double charge",
	})
	assert.Equal(t, http.StatusCreated, recorder.Code)

	var resp model.Refund
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Contains(t, resp.RefundID, "rfd_")
	assert.Equal(t, model.RefundPending, resp.Status)
	assert.True(t, resp.RequiresApproval)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRefundEndpoint_UnknownPaymentIs404(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT .* FROM wattvault.payments").
		WithArgs("pay_missing").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id"}))

	recorder := performRequest(t, router, http.MethodPost, "/refunds", map[string]interface{}{
		"payment_id": "pay_missing",
		"amount":     "10",
	})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Role-guarded operations stay forbidden when the server runs without key
// auth and no role reaches the request context.
func TestReconcileTransactionEndpoint_WithoutRoleIs403(t *testing.T) {
	router, mock := newTestRouter(t)

	recorder := performRequest(t, router, http.MethodPost, "/transactions/txn_1/reconcile", map[string]interface{}{
		"external_ref": "stmt-1",
	})
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
