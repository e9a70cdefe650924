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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/wattvault/wattvault/api/model"
)

// ReconcileTransaction marks one ledger transaction settled against an
// external record. Re-reconciling is a no-op.
func (a Api) ReconcileTransaction(c *gin.Context) {
	id, passed := requiredParam(c, "id")
	if !passed {
		return
	}

	var body model2.ReconcileTransaction
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateReconcileTransaction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.vault.ReconcileTransaction(c.Request.Context(), id, body.ExternalRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListUnreconciled pages through unreconciled transactions. Pass the last
// transaction ID of the previous page as the cursor query parameter.
func (a Api) ListUnreconciled(c *gin.Context) {
	since, err := sinceQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cursor := c.Query("cursor")
	batchSize, err := strconv.Atoi(c.DefaultQuery("batch_size", "100"))
	if err != nil || batchSize <= 0 {
		batchSize = 100
	}

	resp, err := a.vault.ListUnreconciled(c.Request.Context(), since, cursor, batchSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MatchExternalStatement uploads a statement batch for matching. Exact
// matches are reconciled; near matches come back for review.
func (a Api) MatchExternalStatement(c *gin.Context) {
	var body model2.MatchStatement
	if err := c.ShouldBindJSON(&body); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := body.ValidateMatchStatement(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	since := time.Time{}
	if body.Since != "" {
		parsed, err := time.Parse(time.RFC3339, body.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
		since = parsed
	}

	matches, err := a.vault.MatchExternalStatement(c.Request.Context(), body.ToEntries(), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// ExportUnreconciledStatements writes the unreconciled window to S3 and
// returns the object key.
func (a Api) ExportUnreconciledStatements(c *gin.Context) {
	since, err := sinceQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := a.vault.ExportUnreconciledStatements(c.Request.Context(), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

func sinceQuery(c *gin.Context) (time.Time, error) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
