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

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies the direction and origin of a ledger movement.
type TransactionKind string

const (
	KindIncome           TransactionKind = "income"
	KindExpense          TransactionKind = "expense"
	KindTransferIn       TransactionKind = "transfer_in"
	KindTransferOut      TransactionKind = "transfer_out"
	KindAdjustmentCredit TransactionKind = "adjustment_credit"
	KindAdjustmentDebit  TransactionKind = "adjustment_debit"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Transaction is an immutable, atomically applied record of one balance
// change, with before/after snapshots. Once COMPLETED it is never updated;
// corrections happen through a linked reversal transaction.
type Transaction struct {
	ID              int64                  `json:"-"`
	TransactionID   string                 `json:"transaction_id"`
	TransactionCode string                 `json:"transaction_code"`
	BalanceID       string                 `json:"balance_id"`
	Kind            TransactionKind        `json:"kind"`
	Amount          decimal.Decimal        `json:"amount"`
	Fee             decimal.Decimal        `json:"fee"`
	NetAmount       decimal.Decimal        `json:"net_amount"`
	BalanceBefore   decimal.Decimal        `json:"balance_before"`
	BalanceAfter    decimal.Decimal        `json:"balance_after"`
	Currency        string                 `json:"currency"`
	AssetType       AssetType              `json:"asset_type"`
	Status          string                 `json:"status"`
	IdempotencyKey  string                 `json:"idempotency_key"`
	BatchID         string                 `json:"batch_id,omitempty"`
	Reference       CausingRef             `json:"reference,omitempty"`
	Description     string                 `json:"description,omitempty"`
	IsReversible    bool                   `json:"is_reversible"`
	ReversalOf      string                 `json:"reversal_of,omitempty"` // set on the reversal, points at the original
	ReversalID      string                 `json:"reversal_id,omitempty"` // set on the original, points at its reversal
	ReversedAt      *time.Time             `json:"reversed_at,omitempty"`
	IsReconciled    bool                   `json:"is_reconciled"`
	ReconciledAt    *time.Time             `json:"reconciled_at,omitempty"`
	ExternalRef     string                 `json:"external_ref,omitempty"`
	Hash            string                 `json:"hash,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"` // opaque audit payload, never branched on
}

// IsDebit reports whether the kind removes value from the balance.
func (kind TransactionKind) IsDebit() bool {
	switch kind {
	case KindExpense, KindTransferOut, KindAdjustmentDebit:
		return true
	}
	return false
}

// Opposite returns the kind that exactly negates this one, used when building
// reversal transactions.
func (kind TransactionKind) Opposite() TransactionKind {
	switch kind {
	case KindIncome:
		return KindExpense
	case KindExpense:
		return KindIncome
	case KindTransferIn:
		return KindTransferOut
	case KindTransferOut:
		return KindTransferIn
	case KindAdjustmentCredit:
		return KindAdjustmentDebit
	case KindAdjustmentDebit:
		return KindAdjustmentCredit
	}
	return kind
}

// SignedDelta is the exact amount the owning balance moves by when this
// transaction completes. A debit bears its own fee on top of the amount; a
// credit receives the amount net of fee (the fee is retained, not credited).
func (transaction *Transaction) SignedDelta() decimal.Decimal {
	if transaction.Kind.IsDebit() {
		return transaction.Amount.Add(transaction.Fee).Neg()
	}
	return transaction.Amount.Sub(transaction.Fee)
}

// ComputeNet fills NetAmount: the signed value the counterparty sees, net of
// fees. For a debit that is minus the amount (the fee is an extra charge);
// for a credit it equals the applied delta.
func (transaction *Transaction) ComputeNet() {
	if transaction.Kind.IsDebit() {
		transaction.NetAmount = transaction.Amount.Neg()
		return
	}
	transaction.NetAmount = transaction.Amount.Sub(transaction.Fee)
}

// Validate rejects zero or negative amounts and negative fees before any
// balance work happens.
func (transaction *Transaction) Validate() error {
	if transaction.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if transaction.Fee.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// SnapshotBalances records the before/after amounts from the balance the
// transaction is being applied to. balance must already hold the pre-apply
// amount when this is called.
func (transaction *Transaction) SnapshotBalances(balance *Balance) {
	transaction.BalanceBefore = balance.Amount
	transaction.BalanceAfter = balance.Amount.Add(transaction.SignedDelta())
}

// HashTxn produces an integrity hash over the applied fields so tampering
// with a stored row is detectable.
func (transaction *Transaction) HashTxn() string {
	data := fmt.Sprintf("%s%s%s%s%s%s", transaction.Amount.String(), transaction.Fee.String(), transaction.BalanceID, transaction.IdempotencyKey, transaction.Kind, transaction.Currency)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}
