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
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/internal/notification"
	"github.com/wattvault/wattvault/model"
)

// InvoiceRequest creates a billing document. Tax and discount arrive as
// already-computed figures; the total is derived here.
type InvoiceRequest struct {
	OwnerID  string
	Currency string
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	DueAt    *time.Time
}

// CreateInvoice creates a DRAFT invoice.
func (w *Wattvault) CreateInvoice(ctx context.Context, req *InvoiceRequest) (*model.Invoice, error) {
	if req.Subtotal.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Invoice subtotal must be positive", nil)
	}

	now := time.Now()
	invoice := &model.Invoice{
		InvoiceID:  model.GenerateUUIDWithPrefix("inv"),
		OwnerID:    req.OwnerID,
		Currency:   req.Currency,
		Subtotal:   req.Subtotal,
		Tax:        req.Tax,
		Discount:   req.Discount,
		PaidAmount: model.Zero(),
		Status:     model.InvoiceDraft,
		DueAt:      req.DueAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	invoice.ComputeTotal()
	if invoice.Total.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Invoice total must be positive after tax and discount", nil)
	}

	if err := w.datasource.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// GetInvoice loads one invoice.
func (w *Wattvault) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return w.datasource.GetInvoice(ctx, id)
}

// SendInvoice moves a draft to SENT.
func (w *Wattvault) SendInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return w.transitionInvoice(ctx, id, model.InvoiceSent, map[string]bool{
		model.InvoiceDraft: true,
	})
}

// MarkInvoiceViewed records that the recipient opened the invoice.
func (w *Wattvault) MarkInvoiceViewed(ctx context.Context, id string) (*model.Invoice, error) {
	return w.transitionInvoice(ctx, id, model.InvoiceViewed, map[string]bool{
		model.InvoiceSent: true,
	})
}

// CancelInvoice voids an invoice that has collected no money yet. Invoices
// are never deleted; cancellation is an explicit terminal status.
func (w *Wattvault) CancelInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	invoice, err := w.datasource.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.PaidAmount.Sign() > 0 {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Invoice with recorded payments cannot be cancelled; refund instead", nil)
	}
	switch invoice.Status {
	case model.InvoicePaid, model.InvoiceCancelled, model.InvoiceRefunded:
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Invoice is already settled", nil)
	}
	invoice.Status = model.InvoiceCancelled
	invoice.UpdatedAt = time.Now()
	if err := w.datasource.UpdateInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (w *Wattvault) transitionInvoice(ctx context.Context, id, to string, allowedFrom map[string]bool) (*model.Invoice, error) {
	invoice, err := w.datasource.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowedFrom[invoice.Status] {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Invoice status does not allow this transition", nil)
	}
	invoice.Status = to
	invoice.UpdatedAt = time.Now()
	if err := w.datasource.UpdateInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// recordInvoicePayment advances the paid amount after a completed payment.
// Overpayment was already rejected at initiation, but the model guard runs
// again here because payments can race on the same invoice.
func (w *Wattvault) recordInvoicePayment(ctx context.Context, invoiceID string, amount decimal.Decimal) error {
	invoice, err := w.datasource.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := invoice.RecordPayment(amount); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), err)
	}
	invoice.UpdatedAt = time.Now()
	return w.datasource.UpdateInvoice(ctx, invoice)
}

// markInvoiceRefunded flags a fully refunded invoice.
func (w *Wattvault) markInvoiceRefunded(ctx context.Context, invoiceID string) error {
	invoice, err := w.datasource.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	invoice.Status = model.InvoiceRefunded
	invoice.UpdatedAt = time.Now()
	return w.datasource.UpdateInvoice(ctx, invoice)
}

// SweepOverdueInvoices marks unpaid invoices past their due date OVERDUE and
// emits an event for each.
func (w *Wattvault) SweepOverdueInvoices(ctx context.Context, batchSize int) (int, error) {
	due, err := w.datasource.GetOverdueInvoices(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, invoice := range due {
		invoice.Status = model.InvoiceOverdue
		invoice.UpdatedAt = time.Now()
		if err := w.datasource.UpdateInvoice(ctx, invoice); err != nil {
			logrus.Errorf("failed to mark invoice %s overdue: %v", invoice.InvoiceID, err)
			continue
		}
		marked++
		go func(invoice *model.Invoice) {
			if err := w.SendWebhook(NewWebhook{Event: EventInvoiceOverdue, Payload: invoice}); err != nil {
				notification.NotifyError(err)
			}
		}(invoice)
	}
	return marked, nil
}
