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

func (a Api) CreateInvoice(c *gin.Context) {
	var newInvoice model2.CreateInvoice
	if err := c.ShouldBindJSON(&newInvoice); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newInvoice.ValidateCreateInvoice(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	req, err := newInvoice.ToInvoiceRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.CreateInvoice(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetInvoice(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) SendInvoice(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.SendInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) MarkInvoiceViewed(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.MarkInvoiceViewed(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelInvoice(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.CancelInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
