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

const invoiceColumns = `invoice_id, owner_id, currency, subtotal, tax, discount, total, paid_amount, status, due_at, created_at, updated_at`

func scanInvoice(row interface{ Scan(dest ...interface{}) error }) (*model.Invoice, error) {
	invoice := model.Invoice{}
	var dueAt sql.NullTime
	err := row.Scan(
		&invoice.InvoiceID, &invoice.OwnerID, &invoice.Currency,
		&invoice.Subtotal, &invoice.Tax, &invoice.Discount, &invoice.Total,
		&invoice.PaidAmount, &invoice.Status, &dueAt,
		&invoice.CreatedAt, &invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dueAt.Valid {
		invoice.DueAt = &dueAt.Time
	}
	return &invoice, nil
}

func (d Datasource) CreateInvoice(ctx context.Context, invoice *model.Invoice) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO wattvault.invoices
			(invoice_id, owner_id, currency, subtotal, tax, discount, total, paid_amount, status, due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, invoice.InvoiceID, invoice.OwnerID, invoice.Currency,
		invoice.Subtotal, invoice.Tax, invoice.Discount, invoice.Total,
		invoice.PaidAmount, invoice.Status, invoice.DueAt,
		invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Invoice '%s' already exists", invoice.InvoiceID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create invoice", err)
	}
	return nil
}

func (d Datasource) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM wattvault.invoices
		WHERE invoice_id = $1
	`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Invoice with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve invoice", err)
	}
	return invoice, nil
}

func (d Datasource) UpdateInvoice(ctx context.Context, invoice *model.Invoice) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE wattvault.invoices
		SET subtotal = $2, tax = $3, discount = $4, total = $5, paid_amount = $6, status = $7, due_at = $8, updated_at = $9
		WHERE invoice_id = $1
	`, invoice.InvoiceID, invoice.Subtotal, invoice.Tax, invoice.Discount,
		invoice.Total, invoice.PaidAmount, invoice.Status, invoice.DueAt, invoice.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update invoice", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Invoice with ID '%s' not found", invoice.InvoiceID), nil)
	}
	return nil
}

// GetOverdueInvoices lists invoices past due that still have a pending
// amount and are not in a terminal status.
func (d Datasource) GetOverdueInvoices(ctx context.Context, asOf time.Time, batchSize int) ([]*model.Invoice, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM wattvault.invoices
		WHERE due_at IS NOT NULL AND due_at < $1 AND status IN ($2, $3, $4)
		ORDER BY due_at ASC
		LIMIT $5
	`, asOf, model.InvoiceSent, model.InvoiceViewed, model.InvoicePartiallyPaid, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve overdue invoices", err)
	}
	defer rows.Close()

	invoices := []*model.Invoice{}
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan invoice row", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating invoice rows", err)
	}
	return invoices, nil
}
