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
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithPrefix generates a UUID prefixed with a short module tag
// ("bln", "txn", "pay", ...). Every record in the system carries such an id so
// that a bare identifier is self-describing in logs and audit trails.
func GenerateUUIDWithPrefix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// GenerateTransactionCode produces the human-quotable code stored alongside a
// transaction's id. Codes are globally unique so support and audit workflows
// can cite a transaction without the full prefixed UUID.
func GenerateTransactionCode() string {
	return "TXC-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// Zero is the canonical zero amount. decimal.Decimal's zero value is usable,
// but an explicit constructor keeps intent obvious at call sites.
func Zero() decimal.Decimal {
	return decimal.NewFromInt(0)
}

// IsPositive reports whether amount is strictly greater than zero.
func IsPositive(amount decimal.Decimal) bool {
	return amount.Sign() > 0
}
