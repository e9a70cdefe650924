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
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses. A payment only reaches COMPLETED after the gateway has
// confirmed the external movement; only then is the ledger credited.
const (
	PaymentPending    = "PENDING"
	PaymentProcessing = "PROCESSING"
	PaymentCompleted  = "COMPLETED"
	PaymentFailed     = "FAILED"
	PaymentCancelled  = "CANCELLED"
	PaymentExpired    = "EXPIRED"
)

// Payment represents an external-gateway-mediated movement of cash into or
// out of the platform.
type Payment struct {
	ID            int64           `json:"-"`
	PaymentID     string          `json:"payment_id"`
	OwnerID       string          `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	Gateway       string          `json:"gateway"`
	ExternalTxID  string          `json:"external_tx_id,omitempty"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"` // ledger transaction booked on completion
	Status        string          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
}

// Cancellable reports whether the payment may still be cancelled. Once the
// gateway confirmation or ledger booking has committed it can only be
// refunded, never cancelled.
func (payment *Payment) Cancellable() bool {
	return payment.Status == PaymentPending || payment.Status == PaymentProcessing
}
