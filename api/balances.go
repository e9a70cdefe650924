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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/wattvault/wattvault/api/model"
	"github.com/wattvault/wattvault/model"
)

// CreateBalance opens a new balance. Each (owner, asset type, currency)
// triple is unique; a duplicate request gets 409.
func (a Api) CreateBalance(c *gin.Context) {
	var newBalance model2.CreateBalance
	if err := c.ShouldBindJSON(&newBalance); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newBalance.ValidateCreateBalance(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.CreateBalance(c.Request.Context(), newBalance.ToBalance())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetBalance(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	resp, err := a.vault.GetBalance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ResolveBalance finds the unique balance for an owner, asset type and
// currency, creating it empty on first touch.
func (a Api) ResolveBalance(c *gin.Context) {
	var identity model.BalanceIdentity
	if err := c.ShouldBindJSON(&identity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if identity.OwnerID == "" || identity.AssetType == "" || identity.Currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id, asset_type and currency are required"})
		return
	}

	resp, err := a.vault.GetBalanceByIdentity(c.Request.Context(), identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllBalances(c *gin.Context) {
	limit, offset := pagination(c)
	resp, err := a.vault.GetAllBalances(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) FreezeBalance(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	if err := a.vault.FreezeBalance(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "balance frozen"})
}

func (a Api) UnfreezeBalance(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	if err := a.vault.UnfreezeBalance(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "balance unfrozen"})
}

// pagination reads limit/offset query parameters with sane defaults.
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
