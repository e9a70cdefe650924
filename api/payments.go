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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/wattvault/wattvault/api/model"
	"github.com/wattvault/wattvault/internal/apierror"
)

// InitiatePayment creates the payment and requests a gateway charge. When
// the gateway is unreachable the payment stays pending and the response is
// 202 so the caller knows the outcome is not final.
func (a Api) InitiatePayment(c *gin.Context) {
	var newPayment model2.InitiatePayment
	if err := c.ShouldBindJSON(&newPayment); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newPayment.ValidateInitiatePayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.InitiatePayment(c.Request.Context(), newPayment.ToPaymentRequest())
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrGatewayUnavailable && resp != nil {
			c.JSON(http.StatusAccepted, resp)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPayment(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.GetPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ConfirmPayment is the gateway confirmation callback, keyed by the
// gateway's transaction ID. Replays are idempotent.
func (a Api) ConfirmPayment(c *gin.Context) {
	externalTxID, passed := requiredParam(c, "external_tx_id")
	if !passed {
		return
	}

	resp, err := a.vault.ConfirmPayment(c.Request.Context(), externalTxID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelPayment(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.CancelPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
