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

// ExternalStatementEntry is one line from a processor or bank statement,
// uploaded for matching against internal transactions.
type ExternalStatementEntry struct {
	EntryID     string          `json:"entry_id"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	PostedAt    time.Time       `json:"posted_at"`
}

// StatementMatch pairs an external entry with the internal transaction the
// matcher believes it settles. Confidence is in [0,1]; 1 means an exact
// reference match.
type StatementMatch struct {
	Entry         ExternalStatementEntry `json:"entry"`
	TransactionID string                 `json:"transaction_id"`
	Confidence    float64                `json:"confidence"`
	AmountDrift   decimal.Decimal        `json:"amount_drift"`
}
