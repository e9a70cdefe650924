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
)

func (a Api) RequestRefund(c *gin.Context) {
	var newRefund model2.RequestRefund
	if err := c.ShouldBindJSON(&newRefund); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newRefund.ValidateRequestRefund(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.RequestRefund(c.Request.Context(), newRefund.ToRefundRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetRefund(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.GetRefund(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) ApproveRefund(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.ApproveRefund(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExecuteRefund sends the refund to the gateway. The refund stays processing
// until the gateway confirmation finalizes it.
func (a Api) ExecuteRefund(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.ExecuteRefund(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FinalizeRefund books the compensating ledger legs once the gateway has
// confirmed the money movement.
func (a Api) FinalizeRefund(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.FinalizeRefund(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelRefund(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.CancelRefund(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
