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
	"time"

	"github.com/shopspring/decimal"

	"github.com/wattvault/wattvault/model"
)

// IDataSource groups the persistence operations the service layer depends on.
type IDataSource interface {
	balance
	transaction
	wallet
	payment
	invoice
	refund
	reconciliation
}

// balance defines methods for handling balances.
type balance interface {
	CreateBalance(ctx context.Context, balance model.Balance) (model.Balance, error)
	GetOrCreateBalance(ctx context.Context, identity model.BalanceIdentity) (*model.Balance, error)
	GetBalanceByID(ctx context.Context, id string) (*model.Balance, error)
	GetBalanceByIdentity(ctx context.Context, identity model.BalanceIdentity) (*model.Balance, error)
	GetAllBalances(ctx context.Context, limit, offset int) ([]model.Balance, error)
	UpdateBalance(ctx context.Context, balance *model.Balance) error
	SetBalanceFrozen(ctx context.Context, id string, frozen bool) error
	SumDebitsSince(ctx context.Context, balanceID string, since time.Time) (decimal.Decimal, error)
}

// transaction defines methods for handling ledger transactions.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, balanceID, key string) (*model.Transaction, error)
	GetTransactionsForBalance(ctx context.Context, balanceID string, limit, offset int) ([]*model.Transaction, error)
	ApplyLegs(ctx context.Context, txns []*model.Transaction, balances []*model.Balance) error
	LinkReversal(ctx context.Context, originalID, reversalID string, at time.Time) error
}

// wallet defines methods for the token-typed wallet layer.
type wallet interface {
	RecordWalletTransaction(ctx context.Context, wtx *model.WalletTransaction) error
	GetWalletTransaction(ctx context.Context, id string) (*model.WalletTransaction, error)
	GetWalletTransactionByLedgerTxn(ctx context.Context, transactionID string) (*model.WalletTransaction, error)
	UpdateWalletTransactionState(ctx context.Context, id, from, to string) error
	ApproveWalletTransaction(ctx context.Context, id, approver string, at time.Time) error
	GetWalletTransactionsDueForExpiry(ctx context.Context, asOf time.Time, batchSize int) ([]*model.WalletTransaction, error)
	GetWalletTransactionsDueForUnlock(ctx context.Context, asOf time.Time, batchSize int) ([]*model.WalletTransaction, error)
}

// payment defines methods for gateway-mediated payments.
type payment interface {
	CreatePayment(ctx context.Context, payment *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*model.Payment, error)
	UpdatePayment(ctx context.Context, payment *model.Payment) error
	GetExpiredPendingPayments(ctx context.Context, olderThan time.Time, batchSize int) ([]*model.Payment, error)
}

// invoice defines methods for billing documents.
type invoice interface {
	CreateInvoice(ctx context.Context, invoice *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice *model.Invoice) error
	GetOverdueInvoices(ctx context.Context, asOf time.Time, batchSize int) ([]*model.Invoice, error)
}

// refund defines methods for compensating refunds.
type refund interface {
	CreateRefund(ctx context.Context, refund *model.Refund) error
	GetRefund(ctx context.Context, id string) (*model.Refund, error)
	UpdateRefund(ctx context.Context, refund *model.Refund) error
	GetRefundsForPayment(ctx context.Context, paymentID string) ([]*model.Refund, error)
	SumCompletedRefundsForPayment(ctx context.Context, paymentID string) (decimal.Decimal, error)
}

// reconciliation defines methods for matching internal records against
// external statements.
type reconciliation interface {
	ReconcileTransaction(ctx context.Context, transactionID, externalRef string, at time.Time) (bool, error)
	GetUnreconciledTransactions(ctx context.Context, since time.Time, cursor string, batchSize int) ([]*model.Transaction, error)
}
