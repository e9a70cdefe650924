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

import "fmt"

// CausingRef names the entity that originated a ledger transaction. It is a
// closed set of reference kinds rather than a free (type, id) pair, so code
// inspecting a transaction's origin handles every kind explicitly.
type CausingRef interface {
	RefKind() string
	RefID() string
}

type OrderRef struct {
	OrderID string `json:"order_id"`
}

type SubscriptionRef struct {
	SubscriptionID string `json:"subscription_id"`
}

type RefundRef struct {
	RefundID string `json:"refund_id"`
}

type PaymentRef struct {
	PaymentID string `json:"payment_id"`
}

type InvoiceRef struct {
	InvoiceID string `json:"invoice_id"`
}

type ChallengeRewardRef struct {
	ChallengeID string `json:"challenge_id"`
}

func (r OrderRef) RefKind() string           { return "order" }
func (r OrderRef) RefID() string             { return r.OrderID }
func (r SubscriptionRef) RefKind() string    { return "subscription" }
func (r SubscriptionRef) RefID() string      { return r.SubscriptionID }
func (r RefundRef) RefKind() string          { return "refund" }
func (r RefundRef) RefID() string            { return r.RefundID }
func (r PaymentRef) RefKind() string         { return "payment" }
func (r PaymentRef) RefID() string           { return r.PaymentID }
func (r InvoiceRef) RefKind() string         { return "invoice" }
func (r InvoiceRef) RefID() string           { return r.InvoiceID }
func (r ChallengeRewardRef) RefKind() string { return "challenge_reward" }
func (r ChallengeRewardRef) RefID() string   { return r.ChallengeID }

// CausingRefFrom rehydrates a reference from its stored (kind, id) columns.
// An empty kind means the transaction has no causing entity.
func CausingRefFrom(kind, id string) (CausingRef, error) {
	switch kind {
	case "":
		return nil, nil
	case "order":
		return OrderRef{OrderID: id}, nil
	case "subscription":
		return SubscriptionRef{SubscriptionID: id}, nil
	case "refund":
		return RefundRef{RefundID: id}, nil
	case "payment":
		return PaymentRef{PaymentID: id}, nil
	case "invoice":
		return InvoiceRef{InvoiceID: id}, nil
	case "challenge_reward":
		return ChallengeRewardRef{ChallengeID: id}, nil
	}
	return nil, fmt.Errorf("unknown causing reference kind %q", kind)
}

// RefColumns flattens a possibly-nil reference into its storable columns.
func RefColumns(ref CausingRef) (kind, id string) {
	if ref == nil {
		return "", ""
	}
	return ref.RefKind(), ref.RefID()
}
