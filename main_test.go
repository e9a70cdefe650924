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
	"github.com/alicebob/miniredis/v2"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/database"
	"github.com/wattvault/wattvault/internal/cache"
	"github.com/wattvault/wattvault/model"
)

// newTestVault wires a Wattvault instance against a stub database and an
// in-process redis. Pass nil for the default configuration.
func newTestVault(t *testing.T, cnf *config.Configuration) (*Wattvault, sqlmock.Sqlmock) {
	t.Helper()

	mr := miniredis.RunT(t)
	if cnf == nil {
		cnf = &config.Configuration{}
	}
	cnf.Redis = config.RedisConfig{Dns: mr.Addr()}
	config.MockConfig(cnf)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	newCache, err := cache.NewCache()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when creating the cache", err)
	}

	vault, err := NewWattvault(&database.Datasource{Conn: db, Cache: newCache})
	if err != nil {
		t.Fatalf("Error creating Wattvault instance: %s", err)
	}
	return vault, mock
}

func adminCtx() context.Context {
	return WithAuth(context.Background(), AuthContext{ActorID: "api:admin", Role: RoleAdmin})
}

func operatorCtx() context.Context {
	return WithAuth(context.Background(), AuthContext{ActorID: "api:operator", Role: RoleOperator})
}

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

func transactionRows(txn *model.Transaction) *sqlmock.Rows {
	refKind, refID := model.RefColumns(txn.Reference)
	return sqlmock.NewRows([]string{
		"transaction_id", "transaction_code", "balance_id", "kind", "amount",
		"fee", "net_amount", "balance_before", "balance_after", "currency",
		"asset_type", "status", "idempotency_key", "batch_id", "reference_kind",
		"reference_id", "description", "is_reversible", "reversal_of",
		"reversal_id", "reversed_at", "is_reconciled", "reconciled_at",
		"external_ref", "hash", "created_at", "processed_at", "meta_data",
	}).AddRow(
		txn.TransactionID, txn.TransactionCode, txn.BalanceID, txn.Kind,
		txn.Amount.String(), txn.Fee.String(), txn.NetAmount.String(),
		txn.BalanceBefore.String(), txn.BalanceAfter.String(), txn.Currency,
		txn.AssetType, txn.Status, txn.IdempotencyKey, txn.BatchID, refKind,
		refID, txn.Description, txn.IsReversible, txn.ReversalOf,
		txn.ReversalID, nil, txn.IsReconciled, nil, txn.ExternalRef, txn.Hash,
		txn.CreatedAt, nil, []byte(`{}`),
	)
}

func emptyTransactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"transaction_id"})
}

func paymentRows(payment *model.Payment) *sqlmock.Rows {
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

func refundRows(refund *model.Refund) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"refund_id", "payment_id", "amount", "currency", "reason", "status",
		"requires_approval", "auto_approved", "approved_by", "approved_at",
		"gateway_refund_id", "debit_tx_id", "credit_tx_id", "failure_reason",
		"created_at", "completed_at",
	}).AddRow(
		refund.RefundID, refund.PaymentID, refund.Amount.String(),
		refund.Currency, refund.Reason, refund.Status, refund.RequiresApproval,
		refund.AutoApproved, refund.ApprovedBy, refund.ApprovedAt,
		refund.GatewayRefundID, refund.DebitTxID, refund.CreditTxID,
		refund.FailureReason, refund.CreatedAt, refund.CompletedAt,
	)
}

func walletRows(wtx *model.WalletTransaction) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"wallet_tx_id", "transaction_id", "token_type", "state", "expires_at",
		"locked_until", "source_balance_id", "source_amount",
		"source_token_type", "requires_approval", "approved_by", "approved_at",
		"created_at",
	}).AddRow(
		wtx.WalletTxID, wtx.TransactionID, wtx.TokenType, wtx.State,
		wtx.ExpiresAt, wtx.LockedUntil, wtx.SourceBalanceID,
		wtx.SourceAmount.String(), wtx.SourceTokenType, wtx.RequiresApproval,
		wtx.ApprovedBy, wtx.ApprovedAt, wtx.CreatedAt,
	)
}

// stubGateway satisfies PaymentGatewayPort with canned answers.
type stubGateway struct {
	charge    *GatewayCharge
	chargeErr error
	refund    *GatewayRefund
	refundErr error
}

func (g *stubGateway) Charge(context.Context, *model.Payment) (*GatewayCharge, error) {
	return g.charge, g.chargeErr
}

func (g *stubGateway) Refund(context.Context, *model.Refund) (*GatewayRefund, error) {
	return g.refund, g.refundErr
}
