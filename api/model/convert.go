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

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/wattvault/wattvault"
	"github.com/wattvault/wattvault/model"
)

// ToTransactionRequest converts the validated HTTP payload into the service
// request. Call after ValidateRecordTransaction.
func (t *RecordTransaction) ToTransactionRequest() (*wattvault.TransactionRequest, error) {
	ref, err := t.reference()
	if err != nil {
		return nil, err
	}
	req := &wattvault.TransactionRequest{
		BalanceID: t.BalanceID,
		Identity: model.BalanceIdentity{
			OwnerID:   t.OwnerID,
			AssetType: model.AssetType(t.AssetType),
			Currency:  t.Currency,
		},
		Kind:           model.TransactionKind(t.Kind),
		Amount:         parseDecimal(t.Amount),
		Fee:            parseDecimal(t.Fee),
		Currency:       t.Currency,
		IdempotencyKey: t.IdempotencyKey,
		Reference:      ref,
		Description:    t.Description,
		MetaData:       t.MetaData,
	}
	if t.Token != nil {
		exp, lock, err := t.Token.toDomain()
		if err != nil {
			return nil, err
		}
		req.Token = &wattvault.TokenOptions{ExpiresAt: exp, LockedUntil: lock}
	}
	return req, nil
}

// CreateTransfer moves value between two balances of the same asset type.
type CreateTransfer struct {
	SourceBalanceID      string                 `json:"source_balance_id"`
	DestinationBalanceID string                 `json:"destination_balance_id"`
	Amount               string                 `json:"amount"`
	Fee                  string                 `json:"fee"`
	Currency             string                 `json:"currency"`
	IdempotencyKey       string                 `json:"idempotency_key"`
	BatchID              string                 `json:"batch_id"`
	ReferenceKind        string                 `json:"reference_kind"`
	ReferenceID          string                 `json:"reference_id"`
	Description          string                 `json:"description"`
	MetaData             map[string]interface{} `json:"meta_data"`
}

func (t *CreateTransfer) ValidateCreateTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.SourceBalanceID, validation.Required),
		validation.Field(&t.DestinationBalanceID, validation.Required),
		validation.Field(&t.Amount, validation.Required, validation.By(decimalField)),
		validation.Field(&t.Fee, validation.By(decimalField)),
		validation.Field(&t.IdempotencyKey, validation.Required),
		validation.Field(&t.ReferenceID, validation.When(t.ReferenceKind != "", validation.Required)),
	)
}

func (t *CreateTransfer) ToTransferRequest() (*wattvault.TransferRequest, error) {
	var ref model.CausingRef
	if t.ReferenceKind != "" {
		var err error
		if ref, err = model.CausingRefFrom(t.ReferenceKind, t.ReferenceID); err != nil {
			return nil, err
		}
	}
	return &wattvault.TransferRequest{
		SourceBalanceID:      t.SourceBalanceID,
		DestinationBalanceID: t.DestinationBalanceID,
		Amount:               parseDecimal(t.Amount),
		Fee:                  parseDecimal(t.Fee),
		Currency:             t.Currency,
		IdempotencyKey:       t.IdempotencyKey,
		BatchID:              t.BatchID,
		Reference:            ref,
		Description:          t.Description,
		MetaData:             t.MetaData,
	}, nil
}

// ConvertTokens burns tokens of one asset type and mints another at a rate.
type ConvertTokens struct {
	OwnerID        string        `json:"owner_id"`
	FromAssetType  string        `json:"from_asset_type"`
	FromCurrency   string        `json:"from_currency"`
	ToAssetType    string        `json:"to_asset_type"`
	ToCurrency     string        `json:"to_currency"`
	Amount         string        `json:"amount"`
	Rate           string        `json:"rate"`
	IdempotencyKey string        `json:"idempotency_key"`
	Description    string        `json:"description"`
	Token          *TokenOptions `json:"token"`
}

func (c *ConvertTokens) ValidateConvertTokens() error {
	if err := c.Token.validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.OwnerID, validation.Required),
		validation.Field(&c.FromAssetType, validation.Required, validation.In(validAssetTypes...)),
		validation.Field(&c.ToAssetType, validation.Required, validation.In(validAssetTypes...)),
		validation.Field(&c.Amount, validation.Required, validation.By(decimalField)),
		validation.Field(&c.Rate, validation.Required, validation.By(decimalField)),
		validation.Field(&c.IdempotencyKey, validation.Required),
	)
}

func (c *ConvertTokens) ToConversionRequest() (*wattvault.ConversionRequest, error) {
	req := &wattvault.ConversionRequest{
		OwnerID:        c.OwnerID,
		FromAssetType:  model.AssetType(c.FromAssetType),
		FromCurrency:   c.FromCurrency,
		ToAssetType:    model.AssetType(c.ToAssetType),
		ToCurrency:     c.ToCurrency,
		Amount:         parseDecimal(c.Amount),
		Rate:           parseDecimal(c.Rate),
		IdempotencyKey: c.IdempotencyKey,
		Description:    c.Description,
	}
	if c.Token != nil {
		exp, lock, err := c.Token.toDomain()
		if err != nil {
			return nil, err
		}
		req.Token = &wattvault.TokenOptions{ExpiresAt: exp, LockedUntil: lock}
	}
	return req, nil
}

// GrantTokens credits wallet tokens to an owner, optionally locked or
// expiring.
type GrantTokens struct {
	OwnerID        string        `json:"owner_id"`
	TokenType      string        `json:"token_type"`
	Currency       string        `json:"currency"`
	Amount         string        `json:"amount"`
	IdempotencyKey string        `json:"idempotency_key"`
	ReferenceKind  string        `json:"reference_kind"`
	ReferenceID    string        `json:"reference_id"`
	Description    string        `json:"description"`
	Token          *TokenOptions `json:"token"`
}

func (g *GrantTokens) ValidateGrantTokens() error {
	if err := g.Token.validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(g,
		validation.Field(&g.OwnerID, validation.Required),
		validation.Field(&g.TokenType, validation.Required, validation.In(validAssetTypes...)),
		validation.Field(&g.Amount, validation.Required, validation.By(decimalField)),
		validation.Field(&g.IdempotencyKey, validation.Required),
		validation.Field(&g.ReferenceID, validation.When(g.ReferenceKind != "", validation.Required)),
	)
}

func (g *GrantTokens) ToTokenGrantRequest() (*wattvault.TokenGrantRequest, error) {
	var ref model.CausingRef
	if g.ReferenceKind != "" {
		var err error
		if ref, err = model.CausingRefFrom(g.ReferenceKind, g.ReferenceID); err != nil {
			return nil, err
		}
	}
	req := &wattvault.TokenGrantRequest{
		OwnerID:        g.OwnerID,
		TokenType:      model.AssetType(g.TokenType),
		Currency:       g.Currency,
		Amount:         parseDecimal(g.Amount),
		IdempotencyKey: g.IdempotencyKey,
		Reference:      ref,
		Description:    g.Description,
	}
	if g.Token != nil {
		exp, lock, err := g.Token.toDomain()
		if err != nil {
			return nil, err
		}
		req.Token = &wattvault.TokenOptions{ExpiresAt: exp, LockedUntil: lock}
	}
	return req, nil
}

// InitiatePayment starts an inbound payment through the gateway.
type InitiatePayment struct {
	OwnerID          string `json:"owner_id"`
	Amount           string `json:"amount"`
	Fee              string `json:"fee"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	InvoiceID        string `json:"invoice_id"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

func (p *InitiatePayment) ValidateInitiatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.By(decimalField)),
		validation.Field(&p.Fee, validation.By(decimalField)),
		validation.Field(&p.Currency, validation.Required),
		validation.Field(&p.Method, validation.Required),
		validation.Field(&p.ExpiresInSeconds, validation.Min(0)),
	)
}

func (p *InitiatePayment) ToPaymentRequest() *wattvault.PaymentRequest {
	return &wattvault.PaymentRequest{
		OwnerID:   p.OwnerID,
		Amount:    parseDecimal(p.Amount),
		Fee:       parseDecimal(p.Fee),
		Currency:  p.Currency,
		Method:    p.Method,
		InvoiceID: p.InvoiceID,
		ExpiresIn: time.Duration(p.ExpiresInSeconds) * time.Second,
	}
}

// ToInvoiceRequest converts the validated invoice payload.
func (i *CreateInvoice) ToInvoiceRequest() (*wattvault.InvoiceRequest, error) {
	dueAt, err := parseOptionalTime(i.DueAt)
	if err != nil {
		return nil, err
	}
	return &wattvault.InvoiceRequest{
		OwnerID:  i.OwnerID,
		Currency: i.Currency,
		Subtotal: parseDecimal(i.Subtotal),
		Tax:      parseDecimal(i.Tax),
		Discount: parseDecimal(i.Discount),
		DueAt:    dueAt,
	}, nil
}

// ToRefundRequest converts the validated refund payload.
func (r *RequestRefund) ToRefundRequest() *wattvault.RefundRequest {
	return &wattvault.RefundRequest{
		PaymentID: r.PaymentID,
		Amount:    parseDecimal(r.Amount),
		Reason:    r.Reason,
	}
}
