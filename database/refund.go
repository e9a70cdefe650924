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
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

const refundColumns = `refund_id, payment_id, amount, currency, COALESCE(reason, ''), status, requires_approval, auto_approved, COALESCE(approved_by, ''), approved_at, COALESCE(gateway_refund_id, ''), COALESCE(debit_tx_id, ''), COALESCE(credit_tx_id, ''), COALESCE(failure_reason, ''), created_at, completed_at`

func scanRefund(row interface{ Scan(dest ...interface{}) error }) (*model.Refund, error) {
	refund := model.Refund{}
	var approvedAt, completedAt sql.NullTime
	err := row.Scan(
		&refund.RefundID, &refund.PaymentID, &refund.Amount, &refund.Currency,
		&refund.Reason, &refund.Status, &refund.RequiresApproval, &refund.AutoApproved,
		&refund.ApprovedBy, &approvedAt, &refund.GatewayRefundID,
		&refund.DebitTxID, &refund.CreditTxID, &refund.FailureReason,
		&refund.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		refund.ApprovedAt = &approvedAt.Time
	}
	if completedAt.Valid {
		refund.CompletedAt = &completedAt.Time
	}
	return &refund, nil
}

func (d Datasource) CreateRefund(ctx context.Context, refund *model.Refund) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO wattvault.refunds
			(refund_id, payment_id, amount, currency, reason, status, requires_approval, auto_approved, approved_by, approved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, refund.RefundID, refund.PaymentID, refund.Amount, refund.Currency,
		refund.Reason, refund.Status, refund.RequiresApproval, refund.AutoApproved,
		refund.ApprovedBy, refund.ApprovedAt, refund.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Refund '%s' already exists", refund.RefundID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create refund", err)
	}
	return nil
}

func (d Datasource) GetRefund(ctx context.Context, id string) (*model.Refund, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+refundColumns+`
		FROM wattvault.refunds
		WHERE refund_id = $1
	`, id)
	refund, err := scanRefund(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Refund with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve refund", err)
	}
	return refund, nil
}

func (d Datasource) UpdateRefund(ctx context.Context, refund *model.Refund) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.refunds
		SET status = $2, approved_by = $3, approved_at = $4, auto_approved = $5, gateway_refund_id = $6, debit_tx_id = $7, credit_tx_id = $8, failure_reason = $9, completed_at = $10
		WHERE refund_id = $1
	`, refund.RefundID, refund.Status, refund.ApprovedBy, refund.ApprovedAt,
		refund.AutoApproved, refund.GatewayRefundID, refund.DebitTxID,
		refund.CreditTxID, refund.FailureReason, refund.CompletedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update refund", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Refund with ID '%s' not found", refund.RefundID), nil)
	}
	return nil
}

func (d Datasource) GetRefundsForPayment(ctx context.Context, paymentID string) ([]*model.Refund, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM wattvault.refunds
		WHERE payment_id = $1
		ORDER BY created_at ASC
	`, paymentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve refunds", err)
	}
	defer rows.Close()

	refunds := []*model.Refund{}
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan refund row", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating refund rows", err)
	}
	return refunds, nil
}

// SumCompletedRefundsForPayment totals everything already refunded against a
// payment. The refund processor enforces the cumulative cap on this value.
func (d Datasource) SumCompletedRefundsForPayment(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM wattvault.refunds
		WHERE payment_id = $1 AND status = $2
	`, paymentID, model.RefundCompleted).Scan(&total)
	if err != nil {
		return model.Zero(), apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum completed refunds", err)
	}
	return total, nil
}
