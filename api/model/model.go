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

// Package model holds the HTTP request shapes and their validation rules.
// The service layer speaks the domain types in the root model package; this
// package converts between the two.
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/wattvault/wattvault/model"
)

var validAssetTypes = []interface{}{
	string(model.AssetCashWallet),
	string(model.AssetEnergyKWH),
	string(model.AssetMiningShare),
	string(model.AssetStorage),
	string(model.AssetCarbonCredit),
	string(model.AssetLoyaltyPoint),
	string(model.AssetProductionRgt),
}

var validTransactionKinds = []interface{}{
	string(model.KindIncome),
	string(model.KindExpense),
	string(model.KindAdjustmentCredit),
	string(model.KindAdjustmentDebit),
}

// decimalField parses a decimal from its string form, rejecting anything
// that does not parse. Ozzo's Required trips on empty strings first.
func decimalField(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return errors.New("amount must be a string")
	}
	if s == "" {
		return nil
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return errors.New("not a valid decimal number")
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.New("please format dates as RFC3339 (e.g., 2025-04-22T15:28:03Z)")
	}
	return &t, nil
}

func rfc3339Rule(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return errors.New("invalid type for date field")
	}
	_, err := parseOptionalTime(s)
	return err
}

// CreateBalance opens a balance for an owner, asset type and currency.
type CreateBalance struct {
	OwnerID        string                 `json:"owner_id"`
	AssetType      string                 `json:"asset_type"`
	Currency       string                 `json:"currency"`
	AllowOverdraft bool                   `json:"allow_overdraft"`
	DailyLimit     string                 `json:"daily_limit"`
	MonthlyLimit   string                 `json:"monthly_limit"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

func (b *CreateBalance) ValidateCreateBalance() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.OwnerID, validation.Required),
		validation.Field(&b.AssetType, validation.Required, validation.In(validAssetTypes...)),
		validation.Field(&b.Currency, validation.Required),
		validation.Field(&b.DailyLimit, validation.By(decimalField)),
		validation.Field(&b.MonthlyLimit, validation.By(decimalField)),
	)
}

func (b *CreateBalance) ToBalance() model.Balance {
	return model.Balance{
		OwnerID:        b.OwnerID,
		AssetType:      model.AssetType(b.AssetType),
		Currency:       b.Currency,
		Amount:         model.Zero(),
		AllowOverdraft: b.AllowOverdraft,
		DailyLimit:     parseDecimal(b.DailyLimit),
		MonthlyLimit:   parseDecimal(b.MonthlyLimit),
		MetaData:       b.MetaData,
	}
}

// TokenOptions optionally attaches wallet-token behavior to a movement.
type TokenOptions struct {
	ExpiresAt   string `json:"expires_at"`
	LockedUntil string `json:"locked_until"`
}

func (t *TokenOptions) validate() error {
	if t == nil {
		return nil
	}
	return validation.ValidateStruct(t,
		validation.Field(&t.ExpiresAt, validation.By(rfc3339Rule)),
		validation.Field(&t.LockedUntil, validation.By(rfc3339Rule)),
	)
}

// RecordTransaction books a single-balance ledger movement.
type RecordTransaction struct {
	BalanceID      string                 `json:"balance_id"`
	OwnerID        string                 `json:"owner_id"`
	AssetType      string                 `json:"asset_type"`
	Kind           string                 `json:"kind"`
	Amount         string                 `json:"amount"`
	Fee            string                 `json:"fee"`
	Currency       string                 `json:"currency"`
	IdempotencyKey string                 `json:"idempotency_key"`
	ReferenceKind  string                 `json:"reference_kind"`
	ReferenceID    string                 `json:"reference_id"`
	Description    string                 `json:"description"`
	MetaData       map[string]interface{} `json:"meta_data"`
	Token          *TokenOptions          `json:"token"`
}

func balanceOrIdentityValidation(t *RecordTransaction) validation.RuleFunc {
	return func(value interface{}) error {
		if t.BalanceID == "" && (t.OwnerID == "" || t.AssetType == "") {
			return errors.New("either balance_id or owner_id with asset_type is required")
		}
		return nil
	}
}

func (t *RecordTransaction) ValidateRecordTransaction() error {
	if err := t.Token.validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(t,
		validation.Field(&t.Kind, validation.Required, validation.In(validTransactionKinds...)),
		validation.Field(&t.Amount, validation.Required, validation.By(decimalField)),
		validation.Field(&t.Fee, validation.By(decimalField)),
		validation.Field(&t.IdempotencyKey, validation.Required),
		validation.Field(&t.BalanceID, validation.By(balanceOrIdentityValidation(t))),
		validation.Field(&t.AssetType, validation.When(t.AssetType != "", validation.In(validAssetTypes...))),
		validation.Field(&t.ReferenceID, validation.When(t.ReferenceKind != "", validation.Required)),
	)
}

func (t *TokenOptions) toDomain() (exp, lock *time.Time, err error) {
	if t == nil {
		return nil, nil, nil
	}
	if exp, err = parseOptionalTime(t.ExpiresAt); err != nil {
		return nil, nil, err
	}
	if lock, err = parseOptionalTime(t.LockedUntil); err != nil {
		return nil, nil, err
	}
	return exp, lock, nil
}

func (t *RecordTransaction) reference() (model.CausingRef, error) {
	if t.ReferenceKind == "" {
		return nil, nil
	}
	return model.CausingRefFrom(t.ReferenceKind, t.ReferenceID)
}

// Invoice creation.
type CreateInvoice struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Discount string `json:"discount"`
	DueAt    string `json:"due_at"`
}

func (i *CreateInvoice) ValidateCreateInvoice() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.OwnerID, validation.Required),
		validation.Field(&i.Currency, validation.Required),
		validation.Field(&i.Subtotal, validation.Required, validation.By(decimalField)),
		validation.Field(&i.Tax, validation.By(decimalField)),
		validation.Field(&i.Discount, validation.By(decimalField)),
		validation.Field(&i.DueAt, validation.By(rfc3339Rule)),
	)
}

// RequestRefund raises a refund against a completed payment.
type RequestRefund struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

func (r *RequestRefund) ValidateRequestRefund() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.PaymentID, validation.Required),
		validation.Field(&r.Amount, validation.Required, validation.By(decimalField)),
	)
}

// ReconcileTransaction marks a ledger transaction settled externally.
type ReconcileTransaction struct {
	ExternalRef string `json:"external_ref"`
}

func (r *ReconcileTransaction) ValidateReconcileTransaction() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ExternalRef, validation.Required),
	)
}

// StatementEntry is one uploaded external statement line.
type StatementEntry struct {
	EntryID     string `json:"entry_id"`
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	PostedAt    string `json:"posted_at"`
}

// MatchStatement uploads a statement batch for matching.
type MatchStatement struct {
	Since   string           `json:"since"`
	Entries []StatementEntry `json:"entries"`
}

func (m *MatchStatement) ValidateMatchStatement() error {
	if len(m.Entries) == 0 {
		return errors.New("at least one statement entry is required")
	}
	for _, entry := range m.Entries {
		err := validation.ValidateStruct(&entry,
			validation.Field(&entry.EntryID, validation.Required),
			validation.Field(&entry.Amount, validation.Required, validation.By(decimalField)),
			validation.Field(&entry.PostedAt, validation.By(rfc3339Rule)),
		)
		if err != nil {
			return err
		}
	}
	return validation.ValidateStruct(m,
		validation.Field(&m.Since, validation.By(rfc3339Rule)),
	)
}

func (m *MatchStatement) ToEntries() []model.ExternalStatementEntry {
	entries := make([]model.ExternalStatementEntry, 0, len(m.Entries))
	for _, e := range m.Entries {
		postedAt, _ := parseOptionalTime(e.PostedAt)
		entry := model.ExternalStatementEntry{
			EntryID:     e.EntryID,
			Reference:   e.Reference,
			Amount:      parseDecimal(e.Amount),
			Currency:    e.Currency,
			Description: e.Description,
		}
		if postedAt != nil {
			entry.PostedAt = *postedAt
		}
		entries = append(entries, entry)
	}
	return entries
}
