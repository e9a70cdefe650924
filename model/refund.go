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

// Refund statuses. FAILED is terminal: retrying means raising a new refund
// request, never mutating the failed one.
const (
	RefundPending    = "PENDING"
	RefundApproved   = "APPROVED"
	RefundProcessing = "PROCESSING"
	RefundCompleted  = "COMPLETED"
	RefundFailed     = "FAILED"
	RefundCancelled  = "CANCELLED"
	RefundDisputed   = "DISPUTED"
)

// Refund is a compensating request against a completed payment. On
// completion it produces ledger transactions that exactly negate the
// refunded amount.
type Refund struct {
	ID               int64           `json:"-"`
	RefundID         string          `json:"refund_id"`
	PaymentID        string          `json:"payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reason           string          `json:"reason"`
	Status           string          `json:"status"`
	RequiresApproval bool            `json:"requires_approval"`
	AutoApproved     bool            `json:"auto_approved"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	GatewayRefundID  string          `json:"gateway_refund_id,omitempty"`
	DebitTxID        string          `json:"debit_tx_id,omitempty"`
	CreditTxID       string          `json:"credit_tx_id,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Executable reports whether the refund is in a state the processor may run.
func (refund *Refund) Executable() bool {
	return refund.Status == RefundApproved || refund.Status == RefundProcessing
}

// Cancellable is true until the gateway confirmation or ledger application
// has committed.
func (refund *Refund) Cancellable() bool {
	return refund.Status == RefundPending || refund.Status == RefundApproved
}

func (refund *Refund) stampApproval(approver string, auto bool, at time.Time) {
	refund.Status = RefundApproved
	refund.ApprovedBy = approver
	refund.AutoApproved = auto
	refund.ApprovedAt = &at
}

// Approve marks the refund approved by a named approver.
func (refund *Refund) Approve(approver string, at time.Time) {
	refund.stampApproval(approver, false, at)
}

// AutoApprove marks the refund approved without a human approver, used when
// the amount is at or below the auto-approval threshold.
func (refund *Refund) AutoApprove(at time.Time) {
	refund.stampApproval("", true, at)
}
