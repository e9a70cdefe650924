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

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Ledger and payment domain codes. CONCURRENCY_CONFLICT is retryable;
	// everything else is returned to the caller as-is.
	ErrInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	ErrFrozenBalance        ErrorCode = "FROZEN_BALANCE"
	ErrInvalidAmount        ErrorCode = "INVALID_AMOUNT"
	ErrConcurrencyConflict  ErrorCode = "CONCURRENCY_CONFLICT"
	ErrReversalNotAllowed   ErrorCode = "REVERSAL_NOT_ALLOWED"
	ErrRefundExceedsPayment ErrorCode = "REFUND_EXCEEDS_PAYMENT"
	ErrCurrencyMismatch     ErrorCode = "CURRENCY_MISMATCH"
	ErrGatewayUnavailable   ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrApprovalRequired     ErrorCode = "APPROVAL_REQUIRED"
	ErrSpendLimitExceeded   ErrorCode = "SPEND_LIMIT_EXCEEDED"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if code == ErrInternalServer {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf extracts the error code, or INTERNAL_SERVER_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

// IsRetryable reports whether the caller should retry the operation.
// Only optimistic-lock conflicts and gateway outages qualify.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	return code == ErrConcurrencyConflict || code == ErrGatewayUnavailable
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrConcurrencyConflict:
			return http.StatusConflict
		case ErrBadRequest, ErrInvalidInput, ErrInvalidAmount, ErrCurrencyMismatch:
			return http.StatusBadRequest
		case ErrForbidden, ErrApprovalRequired:
			return http.StatusForbidden
		case ErrInsufficientFunds, ErrFrozenBalance, ErrRefundExceedsPayment, ErrSpendLimitExceeded:
			return http.StatusUnprocessableEntity
		case ErrGatewayUnavailable:
			return http.StatusBadGateway
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
