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

// RecordTransaction books a single-balance ledger movement. Replays of the
// same idempotency key return the stored transaction with 200 instead of 201.
func (a Api) RecordTransaction(c *gin.Context) {
	var newTransaction model2.RecordTransaction
	if err := c.ShouldBindJSON(&newTransaction); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newTransaction.ValidateRecordTransaction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	req, err := newTransaction.ToTransactionRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.ApplyTransaction(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetTransaction(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReverseTransaction books the compensating transaction for a completed one.
func (a Api) ReverseTransaction(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.ReverseTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetLedgerHistory(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	limit, offset := pagination(c)
	resp, err := a.vault.GetLedgerHistory(c.Request.Context(), id, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateTransfer moves value between two balances atomically. The fee is
// charged to the destination: the source loses exactly amount, the
// destination receives amount minus fee.
func (a Api) CreateTransfer(c *gin.Context) {
	var newTransfer model2.CreateTransfer
	if err := c.ShouldBindJSON(&newTransfer); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newTransfer.ValidateCreateTransfer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	req, err := newTransfer.ToTransferRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.Transfer(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ConvertTokens burns one asset type and mints another at a given rate.
func (a Api) ConvertTokens(c *gin.Context) {
	var newConversion model2.ConvertTokens
	if err := c.ShouldBindJSON(&newConversion); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newConversion.ValidateConvertTokens(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	req, err := newConversion.ToConversionRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.ConvertTokens(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
