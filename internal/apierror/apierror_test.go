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
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := NewAPIError(ErrInsufficientFunds, "balance would go negative", nil)
	assert.Equal(t, "INSUFFICIENT_FUNDS: balance would go negative", err.Error())
}

func TestCodeOfWrappedError(t *testing.T) {
	inner := NewAPIError(ErrFrozenBalance, "frozen", nil)
	wrapped := pkgerrors.Wrap(inner, "applying debit")
	assert.Equal(t, ErrFrozenBalance, CodeOf(wrapped))

	assert.Equal(t, ErrInternalServer, CodeOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError(ErrConcurrencyConflict, "version changed", nil)))
	assert.True(t, IsRetryable(NewAPIError(ErrGatewayUnavailable, "gateway down", nil)))
	assert.False(t, IsRetryable(NewAPIError(ErrInsufficientFunds, "no funds", nil)))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:             http.StatusNotFound,
		ErrConcurrencyConflict:  http.StatusConflict,
		ErrInvalidAmount:        http.StatusBadRequest,
		ErrCurrencyMismatch:     http.StatusBadRequest,
		ErrApprovalRequired:     http.StatusForbidden,
		ErrInsufficientFunds:    http.StatusUnprocessableEntity,
		ErrRefundExceedsPayment: http.StatusUnprocessableEntity,
		ErrGatewayUnavailable:   http.StatusBadGateway,
		ErrInternalServer:       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, MapErrorToHTTPStatus(NewAPIError(code, "x", nil)))
	}
	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("plain")))
}
