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

	"github.com/wattvault/wattvault"
	"github.com/wattvault/wattvault/api/middleware"
	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
)

type Api struct {
	vault  *wattvault.Wattvault
	router *gin.Engine
}

// Router registers every route and returns the engine.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/balances", a.CreateBalance)
	router.GET("/balances", a.GetAllBalances)
	router.GET("/balances/:id", a.GetBalance)
	router.GET("/balances/:id/transactions", a.GetLedgerHistory)
	router.POST("/balances/:id/freeze", a.FreezeBalance)
	router.POST("/balances/:id/unfreeze", a.UnfreezeBalance)
	router.POST("/balances/resolve", a.ResolveBalance)

	router.POST("/transactions", a.RecordTransaction)
	router.GET("/transactions/:id", a.GetTransaction)
	router.POST("/transactions/:id/reverse", a.ReverseTransaction)
	router.POST("/transactions/:id/reconcile", a.ReconcileTransaction)

	router.POST("/transfers", a.CreateTransfer)
	router.POST("/conversions", a.ConvertTokens)

	router.POST("/wallet-transactions", a.GrantTokens)
	router.GET("/wallet-transactions/:id", a.GetWalletTransaction)
	router.POST("/wallet-transactions/:id/approve", a.ApproveWalletTransaction)

	router.POST("/payments", a.InitiatePayment)
	router.GET("/payments/:id", a.GetPayment)
	router.POST("/payments/:id/cancel", a.CancelPayment)
	router.POST("/payments/confirm/:external_tx_id", a.ConfirmPayment)

	router.POST("/invoices", a.CreateInvoice)
	router.GET("/invoices/:id", a.GetInvoice)
	router.POST("/invoices/:id/send", a.SendInvoice)
	router.POST("/invoices/:id/viewed", a.MarkInvoiceViewed)
	router.POST("/invoices/:id/cancel", a.CancelInvoice)

	router.POST("/refunds", a.RequestRefund)
	router.GET("/refunds/:id", a.GetRefund)
	router.POST("/refunds/:id/approve", a.ApproveRefund)
	router.POST("/refunds/:id/execute", a.ExecuteRefund)
	router.POST("/refunds/:id/finalize", a.FinalizeRefund)
	router.POST("/refunds/:id/cancel", a.CancelRefund)

	router.GET("/reconciliation/unreconciled", a.ListUnreconciled)
	router.POST("/reconciliation/match", a.MatchExternalStatement)
	router.POST("/reconciliation/export", a.ExportUnreconciledStatements)

	return a.router
}

func NewAPI(vault *wattvault.Wattvault) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.KeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{vault: vault, router: r}
}

// respondError translates a service error to the right HTTP status.
func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}

// requiredParam reads a route parameter or aborts with 400.
func requiredParam(c *gin.Context, name string) (string, bool) {
	value, passed := c.Params.Get(name)
	if !passed || value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required. pass it in the route /:" + name})
		return "", false
	}
	return value, true
}
