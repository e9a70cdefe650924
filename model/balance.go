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

// AssetType identifies the kind of value a balance holds. The platform tracks
// several kinds beside plain cash.
type AssetType string

const (
	AssetCashWallet    AssetType = "cash_wallet"
	AssetEnergyKWH     AssetType = "energy_kwh"
	AssetMiningShare   AssetType = "mining_share"
	AssetStorage       AssetType = "storage_capacity"
	AssetCarbonCredit  AssetType = "carbon_credit"
	AssetLoyaltyPoint  AssetType = "loyalty_point"
	AssetProductionRgt AssetType = "production_right"
)

// PlatformOwnerID is the owner of the platform's own routing balances
// (payout, fee retention). Refunds are debited from these.
const PlatformOwnerID = "platform"

// Balance is the durable record of one (owner, asset-type, currency) bucket.
// Exactly one row exists per identity tuple; the amount is only ever mutated
// through the ledger engine, never written directly.
type Balance struct {
	ID                int64                  `json:"-"`
	BalanceID         string                 `json:"balance_id"`
	OwnerID           string                 `json:"owner_id"`
	AssetType         AssetType              `json:"asset_type"`
	Currency          string                 `json:"currency"`
	Amount            decimal.Decimal        `json:"amount"`
	Frozen            bool                   `json:"frozen"`
	AllowOverdraft    bool                   `json:"allow_overdraft"`
	DailyLimit        decimal.Decimal        `json:"daily_limit"`   // zero means unlimited
	MonthlyLimit      decimal.Decimal        `json:"monthly_limit"` // zero means unlimited
	Version           int64                  `json:"-"`
	LastTransactionAt *time.Time             `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
}

// BalanceIdentity names a balance without loading it.
type BalanceIdentity struct {
	OwnerID   string    `json:"owner_id"`
	AssetType AssetType `json:"asset_type"`
	Currency  string    `json:"currency"`
}

func (id BalanceIdentity) String() string {
	return id.OwnerID + ":" + string(id.AssetType) + ":" + id.Currency
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds in source balance")
	ErrFrozenBalance     = errors.New("balance is frozen for debits")
	ErrInvalidAmount     = errors.New("transaction amount must be positive")
)

// CanDebit checks whether total (amount plus fee) can be taken out of the
// balance. Frozen balances reject debits outright; credits stay allowed so a
// disputed account can still receive refunds.
func (balance *Balance) CanDebit(total decimal.Decimal) error {
	if balance.Frozen {
		return ErrFrozenBalance
	}
	if balance.AllowOverdraft {
		return nil
	}
	if balance.Amount.Sub(total).Sign() < 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// ApplyDelta moves the balance by the transaction's signed delta and stamps
// the last-transaction time. Callers must have validated the move first; this
// is the single mutation point for the amount.
func (balance *Balance) ApplyDelta(delta decimal.Decimal, at time.Time) {
	balance.Amount = balance.Amount.Add(delta)
	balance.LastTransactionAt = &at
}
