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
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/internal/notification"
	"github.com/wattvault/wattvault/model"
)

// PaymentRequest starts a gateway-mediated cash movement into the platform.
type PaymentRequest struct {
	OwnerID   string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Currency  string
	Method    string
	InvoiceID string
	ExpiresIn time.Duration
}

// InitiatePayment creates the payment record and asks the gateway for a
// charge. The ledger is NOT touched here: money only enters the ledger when
// the gateway confirms. A gateway failure leaves the payment FAILED; gateway
// unavailability leaves it PENDING for a later retry or expiry.
func (w *Wattvault) InitiatePayment(ctx context.Context, req *PaymentRequest) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "Initiating payment")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if req.Amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Payment amount must be positive", nil)
	}
	if req.InvoiceID != "" {
		invoice, err := w.datasource.GetInvoice(ctx, req.InvoiceID)
		if err != nil {
			return nil, logAndRecordError(span, "fetch invoice error", err)
		}
		if req.Amount.GreaterThan(invoice.PendingAmount()) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Payment exceeds the invoice pending amount", nil)
		}
	}

	payment := &model.Payment{
		PaymentID: model.GenerateUUIDWithPrefix("pay"),
		OwnerID:   req.OwnerID,
		Amount:    req.Amount,
		Fee:       req.Fee,
		NetAmount: req.Amount.Sub(req.Fee),
		Currency:  req.Currency,
		Method:    req.Method,
		Gateway:   conf.Gateway.Name,
		InvoiceID: req.InvoiceID,
		Status:    model.PaymentPending,
		CreatedAt: time.Now(),
	}
	if err := w.datasource.CreatePayment(ctx, payment); err != nil {
		return nil, logAndRecordError(span, "create payment error", err)
	}

	charge, err := w.gateway.Charge(ctx, payment)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrGatewayUnavailable {
			// Unknown outcome. Leave the payment pending; expiry or a
			// confirmation callback settles it.
			w.schedulePaymentExpiry(payment, req.ExpiresIn)
			return payment, err
		}
		payment.Status = model.PaymentFailed
		payment.FailureReason = err.Error()
		if updateErr := w.datasource.UpdatePayment(ctx, payment); updateErr != nil {
			return nil, logAndRecordError(span, "update payment error", updateErr)
		}
		w.emitPaymentEvent(EventPaymentFailed, payment)
		return payment, err
	}

	payment.Status = model.PaymentProcessing
	payment.ExternalTxID = charge.ExternalTxID
	if err := w.datasource.UpdatePayment(ctx, payment); err != nil {
		return nil, logAndRecordError(span, "update payment error", err)
	}
	w.schedulePaymentExpiry(payment, req.ExpiresIn)
	return payment, nil
}

// ConfirmPayment is the gateway confirmation callback. It books the ledger
// credit to the owner's cash balance, marks the payment COMPLETED, and
// advances any linked invoice. Confirming twice is safe: the ledger credit is
// idempotent on the payment ID and the invoice only advances on the first
// status change.
func (w *Wattvault) ConfirmPayment(ctx context.Context, externalTxID string) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "Confirming payment")
	defer span.End()

	payment, err := w.datasource.GetPaymentByExternalTxID(ctx, externalTxID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch payment error", err)
	}
	if payment.Status == model.PaymentCompleted {
		return payment, nil
	}
	if payment.Status != model.PaymentPending && payment.Status != model.PaymentProcessing {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Payment is not awaiting confirmation", nil)
	}

	txn, err := w.ApplyTransaction(ctx, &TransactionRequest{
		Identity: model.BalanceIdentity{
			OwnerID:   payment.OwnerID,
			AssetType: model.AssetCashWallet,
			Currency:  payment.Currency,
		},
		Kind:           model.KindIncome,
		Amount:         payment.Amount,
		Fee:            payment.Fee,
		Currency:       payment.Currency,
		IdempotencyKey: "pay-" + payment.PaymentID,
		Reference:      model.PaymentRef{PaymentID: payment.PaymentID},
		Description:    "Payment via " + payment.Gateway,
	})
	if err != nil {
		return nil, logAndRecordError(span, "apply payment credit error", err)
	}

	now := time.Now()
	payment.Status = model.PaymentCompleted
	payment.TransactionID = txn.TransactionID
	payment.ConfirmedAt = &now
	if err := w.datasource.UpdatePayment(ctx, payment); err != nil {
		return nil, logAndRecordError(span, "update payment error", err)
	}

	if payment.InvoiceID != "" {
		if err := w.recordInvoicePayment(ctx, payment.InvoiceID, payment.Amount); err != nil {
			// The money is booked; an invoice bookkeeping failure must not
			// unbook it. Report and continue.
			logrus.Errorf("failed to advance invoice %s for payment %s: %v", payment.InvoiceID, payment.PaymentID, err)
			notification.NotifyError(err)
		}
	}

	w.emitPaymentEvent(EventPaymentConfirmed, payment)
	return payment, nil
}

// CancelPayment aborts a payment that has not been confirmed. Completed
// payments can only be refunded.
func (w *Wattvault) CancelPayment(ctx context.Context, id string) (*model.Payment, error) {
	payment, err := w.datasource.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !payment.Cancellable() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Payment can no longer be cancelled", nil)
	}
	payment.Status = model.PaymentCancelled
	if err := w.datasource.UpdatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPayment loads one payment.
func (w *Wattvault) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return w.datasource.GetPayment(ctx, id)
}

// ExpirePayment moves a still-pending payment to EXPIRED once its window has
// lapsed. Confirmed or failed payments are left alone.
func (w *Wattvault) ExpirePayment(ctx context.Context, id string) error {
	payment, err := w.datasource.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if payment.Status != model.PaymentPending && payment.Status != model.PaymentProcessing {
		return nil
	}
	payment.Status = model.PaymentExpired
	if err := w.datasource.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	w.emitPaymentEvent(EventPaymentExpired, payment)
	return nil
}

// SweepExpiredPayments expires pending payments older than the cutoff, as a
// safety net behind the scheduled per-payment tasks.
func (w *Wattvault) SweepExpiredPayments(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	due, err := w.datasource.GetExpiredPendingPayments(ctx, olderThan, batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, payment := range due {
		if err := w.ExpirePayment(ctx, payment.PaymentID); err != nil {
			logrus.Errorf("failed to expire payment %s: %v", payment.PaymentID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// ProcessPaymentExpiry is the asynq handler for scheduled payment expiries.
func (w *Wattvault) ProcessPaymentExpiry(ctx context.Context, task *asynq.Task) error {
	var paymentID string
	if err := json.Unmarshal(task.Payload(), &paymentID); err != nil {
		return err
	}
	return w.ExpirePayment(ctx, paymentID)
}

func (w *Wattvault) schedulePaymentExpiry(payment *model.Payment, expiresIn time.Duration) {
	if expiresIn <= 0 {
		return
	}
	if err := w.queue.queuePaymentExpiry(payment.PaymentID, time.Now().Add(expiresIn)); err != nil {
		notification.NotifyError(err)
	}
}

func (w *Wattvault) emitPaymentEvent(event string, payment *model.Payment) {
	go func() {
		if err := w.SendWebhook(NewWebhook{Event: event, Payload: payment}); err != nil {
			notification.NotifyError(err)
		}
	}()
}
