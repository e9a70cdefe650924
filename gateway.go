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

package wattvault

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/internal/request"
	"github.com/wattvault/wattvault/model"
)

// GatewayCharge is the gateway's answer to a charge request. ExternalTxID is
// the gateway-side identifier the later confirmation callback will carry.
type GatewayCharge struct {
	ExternalTxID string `json:"external_tx_id"`
	Status       string `json:"status"`
}

// GatewayRefund is the gateway's answer to a refund instruction.
type GatewayRefund struct {
	GatewayRefundID string `json:"gateway_refund_id"`
	Status          string `json:"status"`
}

// PaymentGatewayPort abstracts the external payment processor. The HTTP
// implementation talks to the configured gateway; tests plug in fakes.
type PaymentGatewayPort interface {
	Charge(ctx context.Context, payment *model.Payment) (*GatewayCharge, error)
	Refund(ctx context.Context, refund *model.Refund) (*GatewayRefund, error)
}

// HTTPPaymentGateway drives a REST payment gateway. Requests are retried with
// exponential backoff up to the configured bound; a gateway that stays down
// surfaces as GATEWAY_UNAVAILABLE so callers can distinguish "failed" from
// "unknown".
type HTTPPaymentGateway struct {
	conf config.GatewayConfig
}

func NewHTTPPaymentGateway(conf config.GatewayConfig) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{conf: conf}
}

func (g *HTTPPaymentGateway) post(ctx context.Context, path string, payload interface{}, response interface{}) error {
	body, err := request.ToJsonReq(payload)
	if err != nil {
		return errors.Wrap(err, "encoding gateway request")
	}
	req, err := http.NewRequestWithContext(ctx, "POST", g.conf.URL+path, body)
	if err != nil {
		return errors.Wrap(err, "building gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+g.conf.APIKey)

	resp, err := request.Call(req, response)
	if err != nil {
		return errors.Wrap(err, "calling payment gateway")
	}
	if resp.StatusCode >= 500 {
		return errors.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Payment gateway rejected the request with status %d", resp.StatusCode), nil))
	}
	return nil
}

func (g *HTTPPaymentGateway) retryPost(ctx context.Context, path string, payload interface{}, response interface{}) error {
	maxRetries := g.conf.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(2*time.Minute)), uint64(maxRetries))

	err := backoff.Retry(func() error {
		return g.post(ctx, path, payload, response)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrBadRequest {
			return err
		}
		return apierror.NewAPIError(apierror.ErrGatewayUnavailable, "Payment gateway is unavailable", err)
	}
	return nil
}

type gatewayChargeRequest struct {
	PaymentID string          `json:"payment_id"`
	OwnerID   string          `json:"owner_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
}

func (g *HTTPPaymentGateway) Charge(ctx context.Context, payment *model.Payment) (*GatewayCharge, error) {
	var charge GatewayCharge
	err := g.retryPost(ctx, "/v1/charges", gatewayChargeRequest{
		PaymentID: payment.PaymentID,
		OwnerID:   payment.OwnerID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Method:    payment.Method,
	}, &charge)
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

type gatewayRefundRequest struct {
	RefundID  string          `json:"refund_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

func (g *HTTPPaymentGateway) Refund(ctx context.Context, refund *model.Refund) (*GatewayRefund, error) {
	var result GatewayRefund
	err := g.retryPost(ctx, "/v1/refunds", gatewayRefundRequest{
		RefundID:  refund.RefundID,
		PaymentID: refund.PaymentID,
		Amount:    refund.Amount,
		Currency:  refund.Currency,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
