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
	"time"

	"github.com/lib/pq"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

const paymentColumns = `payment_id, owner_id, amount, fee, net_amount, currency, COALESCE(method, ''), gateway, COALESCE(external_tx_id, ''), COALESCE(invoice_id, ''), COALESCE(transaction_id, ''), status, COALESCE(failure_reason, ''), created_at, confirmed_at`

func scanPayment(row interface{ Scan(dest ...interface{}) error }) (*model.Payment, error) {
	payment := model.Payment{}
	var confirmedAt sql.NullTime
	err := row.Scan(
		&payment.PaymentID, &payment.OwnerID, &payment.Amount, &payment.Fee,
		&payment.NetAmount, &payment.Currency, &payment.Method, &payment.Gateway,
		&payment.ExternalTxID, &payment.InvoiceID, &payment.TransactionID,
		&payment.Status, &payment.FailureReason, &payment.CreatedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		payment.ConfirmedAt = &confirmedAt.Time
	}
	return &payment, nil
}

func (d Datasource) CreatePayment(ctx context.Context, payment *model.Payment) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO wattvault.payments
			(payment_id, owner_id, amount, fee, net_amount, currency, method, gateway, external_tx_id, invoice_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, payment.PaymentID, payment.OwnerID, payment.Amount, payment.Fee,
		payment.NetAmount, payment.Currency, payment.Method, payment.Gateway,
		payment.ExternalTxID, payment.InvoiceID, payment.Status, payment.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payment '%s' already exists", payment.PaymentID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment", err)
	}
	return nil
}

func (d Datasource) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM wattvault.payments
		WHERE payment_id = $1
	`, id)
	payment, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}
	return payment, nil
}

// GetPaymentByExternalTxID resolves a gateway callback to the payment it
// confirms.
func (d Datasource) GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM wattvault.payments
		WHERE external_tx_id = $1
	`, externalTxID)
	payment, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No payment with external transaction ID '%s'", externalTxID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}
	return payment, nil
}

func (d Datasource) UpdatePayment(ctx context.Context, payment *model.Payment) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.payments
		SET status = $2, external_tx_id = $3, transaction_id = $4, failure_reason = $5, confirmed_at = $6
		WHERE payment_id = $1
	`, payment.PaymentID, payment.Status, payment.ExternalTxID,
		payment.TransactionID, payment.FailureReason, payment.ConfirmedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payment", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment with ID '%s' not found", payment.PaymentID), nil)
	}
	return nil
}

// GetExpiredPendingPayments lists payments still waiting on the gateway past
// the cutoff. The expiry worker moves them to EXPIRED.
func (d Datasource) GetExpiredPendingPayments(ctx context.Context, olderThan time.Time, batchSize int) ([]*model.Payment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM wattvault.payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, model.PaymentPending, olderThan, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expired payments", err)
	}
	defer rows.Close()

	payments := []*model.Payment{}
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment row", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating payment rows", err)
	}
	return payments, nil
}
