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

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/internal/notification"
	"github.com/wattvault/wattvault/model"
)

// RefundRequest raises a compensating request against a completed payment.
type RefundRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Reason    string
}

// RequestRefund validates and records a refund request. Amounts at or under
// the configured auto-approval threshold skip the manual approval step. The
// cumulative cap (all completed refunds plus this one must not exceed the
// payment) is checked here for early feedback and re-checked at execution,
// where it is authoritative.
func (w *Wattvault) RequestRefund(ctx context.Context, req *RefundRequest) (*model.Refund, error) {
	ctx, span := tracer.Start(ctx, "Requesting refund")
	defer span.End()

	payment, err := w.datasource.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch payment error", err)
	}
	if payment.Status != model.PaymentCompleted {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Only completed payments can be refunded", nil)
	}
	if req.Amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Refund amount must be positive", nil)
	}

	if err := w.checkRefundCap(ctx, payment, req.Amount); err != nil {
		return nil, err
	}

	refund := &model.Refund{
		RefundID:  model.GenerateUUIDWithPrefix("rfd"),
		PaymentID: payment.PaymentID,
		Amount:    req.Amount,
		Currency:  payment.Currency,
		Reason:    req.Reason,
		Status:    model.RefundPending,
		CreatedAt: time.Now(),
	}

	autoApprove, err := w.refundAutoApprovable(req.Amount)
	if err != nil {
		return nil, err
	}
	if autoApprove {
		refund.AutoApprove(time.Now())
	} else {
		refund.RequiresApproval = true
	}

	if err := w.datasource.CreateRefund(ctx, refund); err != nil {
		return nil, logAndRecordError(span, "create refund error", err)
	}
	return refund, nil
}

// ApproveRefund records an admin approval for a refund above the
// auto-approval threshold.
func (w *Wattvault) ApproveRefund(ctx context.Context, id string) (*model.Refund, error) {
	auth, err := requireRole(ctx, RoleAdmin)
	if err != nil {
		return nil, err
	}

	refund, err := w.datasource.GetRefund(ctx, id)
	if err != nil {
		return nil, err
	}
	if refund.Status != model.RefundPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Refund is not awaiting approval", nil)
	}
	refund.Approve(auth.ActorID, time.Now())
	if err := w.datasource.UpdateRefund(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// ExecuteRefund instructs the gateway to return the money. The refund sits in
// PROCESSING until the gateway confirms; FinalizeRefund then books the ledger
// legs. Executing an unapproved refund above the threshold reports
// APPROVAL_REQUIRED. A gateway rejection is terminal: the refund fails and a
// retry means raising a new request.
func (w *Wattvault) ExecuteRefund(ctx context.Context, id string) (*model.Refund, error) {
	ctx, span := tracer.Start(ctx, "Executing refund")
	defer span.End()

	refund, err := w.datasource.GetRefund(ctx, id)
	if err != nil {
		return nil, logAndRecordError(span, "fetch refund error", err)
	}
	if refund.Status == model.RefundProcessing {
		// Gateway already instructed; finalization is pending.
		return refund, nil
	}
	if refund.RequiresApproval && refund.ApprovedAt == nil {
		return nil, apierror.NewAPIError(apierror.ErrApprovalRequired, "Refund needs approval before execution", nil)
	}
	if !refund.Executable() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Refund is not in an executable state", nil)
	}

	payment, err := w.datasource.GetPayment(ctx, refund.PaymentID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch payment error", err)
	}
	// Authoritative cap check: prior completed refunds plus this one must
	// not exceed the original payment.
	if err := w.checkRefundCap(ctx, payment, refund.Amount); err != nil {
		return nil, err
	}

	gatewayRefund, err := w.gateway.Refund(ctx, refund)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrGatewayUnavailable {
			// Unknown outcome; stay APPROVED so the caller can retry
			// execution once the gateway recovers.
			return nil, err
		}
		refund.Status = model.RefundFailed
		refund.FailureReason = err.Error()
		if updateErr := w.datasource.UpdateRefund(ctx, refund); updateErr != nil {
			return nil, logAndRecordError(span, "update refund error", updateErr)
		}
		w.emitRefundEvent(EventRefundFailed, refund)
		return refund, err
	}

	refund.Status = model.RefundProcessing
	refund.GatewayRefundID = gatewayRefund.GatewayRefundID
	if err := w.datasource.UpdateRefund(ctx, refund); err != nil {
		return nil, logAndRecordError(span, "update refund error", err)
	}
	return refund, nil
}

// FinalizeRefund is driven by the gateway's asynchronous confirmation. It
// books the compensating transfer: the platform payout balance is debited and
// the payer's cash balance credited, atomically. Both legs are idempotent on
// the refund ID, so replayed confirmations cannot double-book.
func (w *Wattvault) FinalizeRefund(ctx context.Context, id string) (*model.Refund, error) {
	ctx, span := tracer.Start(ctx, "Finalizing refund")
	defer span.End()

	refund, err := w.datasource.GetRefund(ctx, id)
	if err != nil {
		return nil, logAndRecordError(span, "fetch refund error", err)
	}
	if refund.Status == model.RefundCompleted {
		return refund, nil
	}
	if refund.Status != model.RefundProcessing {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Refund is not awaiting finalization", nil)
	}

	payment, err := w.datasource.GetPayment(ctx, refund.PaymentID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch payment error", err)
	}

	platformBalance, err := w.datasource.GetOrCreateBalance(ctx, model.BalanceIdentity{
		OwnerID:   model.PlatformOwnerID,
		AssetType: model.AssetCashWallet,
		Currency:  refund.Currency,
	})
	if err != nil {
		return nil, logAndRecordError(span, "resolve platform balance error", err)
	}
	payerBalance, err := w.datasource.GetOrCreateBalance(ctx, model.BalanceIdentity{
		OwnerID:   payment.OwnerID,
		AssetType: model.AssetCashWallet,
		Currency:  refund.Currency,
	})
	if err != nil {
		return nil, logAndRecordError(span, "resolve payer balance error", err)
	}

	transfer, err := w.Transfer(ctx, &TransferRequest{
		SourceBalanceID:      platformBalance.BalanceID,
		DestinationBalanceID: payerBalance.BalanceID,
		Amount:               refund.Amount,
		Fee:                  model.Zero(),
		Currency:             refund.Currency,
		IdempotencyKey:       "rfd-" + refund.RefundID,
		Reference:            model.RefundRef{RefundID: refund.RefundID},
		Description:          "Refund of payment " + refund.PaymentID,
	})
	if err != nil {
		return nil, logAndRecordError(span, "book refund transfer error", err)
	}

	now := time.Now()
	refund.Status = model.RefundCompleted
	refund.DebitTxID = transfer.Debit.TransactionID
	refund.CreditTxID = transfer.Credit.TransactionID
	refund.CompletedAt = &now
	if err := w.datasource.UpdateRefund(ctx, refund); err != nil {
		return nil, logAndRecordError(span, "update refund error", err)
	}

	if payment.InvoiceID != "" {
		if refunded, err := w.datasource.SumCompletedRefundsForPayment(ctx, payment.PaymentID); err == nil && refunded.GreaterThanOrEqual(payment.Amount) {
			if err := w.markInvoiceRefunded(ctx, payment.InvoiceID); err != nil {
				notification.NotifyError(err)
			}
		}
	}

	w.emitRefundEvent(EventRefundCompleted, refund)
	return refund, nil
}

// CancelRefund withdraws a refund that has not reached the gateway.
func (w *Wattvault) CancelRefund(ctx context.Context, id string) (*model.Refund, error) {
	refund, err := w.datasource.GetRefund(ctx, id)
	if err != nil {
		return nil, err
	}
	if !refund.Cancellable() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Refund can no longer be cancelled", nil)
	}
	refund.Status = model.RefundCancelled
	if err := w.datasource.UpdateRefund(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// GetRefund loads one refund.
func (w *Wattvault) GetRefund(ctx context.Context, id string) (*model.Refund, error) {
	return w.datasource.GetRefund(ctx, id)
}

// checkRefundCap rejects a refund that would push the cumulative refunded
// amount past the original payment.
func (w *Wattvault) checkRefundCap(ctx context.Context, payment *model.Payment, amount decimal.Decimal) error {
	refunded, err := w.datasource.SumCompletedRefundsForPayment(ctx, payment.PaymentID)
	if err != nil {
		return err
	}
	if refunded.Add(amount).GreaterThan(payment.Amount) {
		return apierror.NewAPIError(apierror.ErrRefundExceedsPayment, "Cumulative refunds would exceed the payment amount", nil)
	}
	return nil
}

// refundAutoApprovable applies the configured auto-approval threshold. An
// empty threshold means every refund needs approval.
func (w *Wattvault) refundAutoApprovable(amount decimal.Decimal) (bool, error) {
	conf, err := config.Fetch()
	if err != nil {
		return false, err
	}
	if conf.Refund.AutoApprovalThreshold == "" {
		return false, nil
	}
	threshold, err := decimal.NewFromString(conf.Refund.AutoApprovalThreshold)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid refund auto-approval threshold configured", err)
	}
	return amount.LessThanOrEqual(threshold), nil
}

func (w *Wattvault) emitRefundEvent(event string, refund *model.Refund) {
	go func() {
		if err := w.SendWebhook(NewWebhook{Event: event, Payload: refund}); err != nil {
			notification.NotifyError(err)
		}
	}()
}
