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

	"github.com/shopspring/decimal"
)

// Wallet transaction states. A token movement may be locked until a date,
// becomes available when the lock lapses, and may expire. Expiry is a
// credit-neutral status transition: the balance is not touched.
const (
	WalletStateLocked    = "LOCKED"
	WalletStateAvailable = "AVAILABLE"
	WalletStateExpired   = "EXPIRED"
)

// WalletTransaction is the token-typed layer over a ledger transaction. It
// adds the token subtype, optional expiry and lock windows, conversion
// lineage, and approval metadata for large movements.
type WalletTransaction struct {
	ID               int64           `json:"-"`
	WalletTxID       string          `json:"wallet_tx_id"`
	TransactionID    string          `json:"transaction_id"`
	TokenType        AssetType       `json:"token_type"`
	State            string          `json:"state"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	LockedUntil      *time.Time      `json:"locked_until,omitempty"`
	SourceBalanceID  string          `json:"source_balance_id,omitempty"`
	SourceAmount     decimal.Decimal `json:"source_amount"`
	SourceTokenType  AssetType       `json:"source_token_type,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// InitialState picks the starting state from the lock window.
func (wt *WalletTransaction) InitialState(now time.Time) string {
	if wt.LockedUntil != nil && wt.LockedUntil.After(now) {
		return WalletStateLocked
	}
	return WalletStateAvailable
}

// CanExpire reports whether the wallet transaction is due for the expiry
// sweep at the given instant.
func (wt *WalletTransaction) CanExpire(now time.Time) bool {
	if wt.State == WalletStateExpired || wt.ExpiresAt == nil {
		return false
	}
	return !wt.ExpiresAt.After(now)
}
