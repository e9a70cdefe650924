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
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceDraft         = "DRAFT"
	InvoiceSent          = "SENT"
	InvoiceViewed        = "VIEWED"
	InvoicePaid          = "PAID"
	InvoicePartiallyPaid = "PARTIALLY_PAID"
	InvoiceOverdue       = "OVERDUE"
	InvoiceCancelled     = "CANCELLED"
	InvoiceRefunded      = "REFUNDED"
)

// Invoice is a billing document. Its lifecycle is an explicit status, never a
// hidden soft-delete flag: cancelled invoices stay visible to the ledger's
// consistency checks.
type Invoice struct {
	ID         int64           `json:"-"`
	InvoiceID  string          `json:"invoice_id"`
	OwnerID    string          `json:"owner_id"`
	Currency   string          `json:"currency"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Status     string          `json:"status"`
	DueAt      *time.Time      `json:"due_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PendingAmount is the derived remainder: total minus paid. It can never be
// negative because RecordPayment rejects overpayment.
func (invoice *Invoice) PendingAmount() decimal.Decimal {
	return invoice.Total.Sub(invoice.PaidAmount)
}

var ErrInvoiceOverpaid = errors.New("payment exceeds invoice pending amount")

// RecordPayment advances the paid amount by a completed payment and derives
// the resulting status. Only completed payments may be recorded.
func (invoice *Invoice) RecordPayment(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(invoice.PendingAmount()) {
		return ErrInvoiceOverpaid
	}
	invoice.PaidAmount = invoice.PaidAmount.Add(amount)
	if invoice.PendingAmount().IsZero() {
		invoice.Status = InvoicePaid
	} else {
		invoice.Status = InvoicePartiallyPaid
	}
	return nil
}

// ComputeTotal derives total from subtotal, tax and discount. Tax rule tables
// are consumed as input here, not computed.
func (invoice *Invoice) ComputeTotal() {
	invoice.Total = invoice.Subtotal.Add(invoice.Tax).Sub(invoice.Discount)
}
