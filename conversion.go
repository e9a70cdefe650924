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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/model"
)

// ConversionRequest exchanges tokens of one asset type for another within the
// same owner: the source balance is debited by Amount and the target balance
// is credited with Amount times Rate. The resulting wallet transaction keeps
// the source lineage so a converted token can always be traced back.
type ConversionRequest struct {
	OwnerID        string
	FromAssetType  model.AssetType
	FromCurrency   string
	ToAssetType    model.AssetType
	ToCurrency     string
	Amount         decimal.Decimal
	Rate           decimal.Decimal
	IdempotencyKey string
	Description    string
	Token          *TokenOptions
}

// ConversionResult pairs the two ledger legs with the wallet transaction
// recording the lineage.
type ConversionResult struct {
	BatchID           string                   `json:"batch_id"`
	Debit             *model.Transaction       `json:"debit"`
	Credit            *model.Transaction       `json:"credit"`
	WalletTransaction *model.WalletTransaction `json:"wallet_transaction"`
}

// ConvertTokens books a cross-asset conversion atomically. The two ledger
// legs commit together; the wallet transaction rides on the credit leg and
// starts LOCKED when a lock window is requested, AVAILABLE otherwise.
func (w *Wattvault) ConvertTokens(ctx context.Context, req *ConversionRequest) (*ConversionResult, error) {
	ctx, span := tracer.Start(ctx, "Converting tokens")
	defer span.End()

	if req.IdempotencyKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}
	if req.Rate.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Conversion rate must be positive", nil)
	}
	if req.FromAssetType == req.ToAssetType {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Conversion requires two distinct asset types", nil)
	}

	source, err := w.datasource.GetOrCreateBalance(ctx, model.BalanceIdentity{
		OwnerID: req.OwnerID, AssetType: req.FromAssetType, Currency: req.FromCurrency,
	})
	if err != nil {
		return nil, logAndRecordError(span, "resolve source balance error", err)
	}
	target, err := w.datasource.GetOrCreateBalance(ctx, model.BalanceIdentity{
		OwnerID: req.OwnerID, AssetType: req.ToAssetType, Currency: req.ToCurrency,
	})
	if err != nil {
		return nil, logAndRecordError(span, "resolve target balance error", err)
	}

	if stored, err := w.datasource.GetTransactionByIdempotencyKey(ctx, source.BalanceID, req.IdempotencyKey+"-out"); err == nil {
		return w.loadConversionResult(ctx, stored, target.BalanceID, req.IdempotencyKey)
	} else if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, logAndRecordError(span, "idempotency lookup error", err)
	}

	unlock, err := w.lockBalancesInOrder(ctx, source.BalanceID, target.BalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "lock acquisition error", err)
	}
	defer unlock()

	result, debited, err := w.convertWithRetry(ctx, req, source.BalanceID, target.BalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "apply conversion legs error", err)
	}

	wtx, err := w.recordConversionWalletTransaction(ctx, req, result.Credit, debited, result.Credit.Amount, result.Credit.CreatedAt)
	if err != nil {
		return nil, logAndRecordError(span, "record wallet transaction error", err)
	}
	result.WalletTransaction = wtx

	w.postTransactionActions(ctx, result.Debit)
	w.postTransactionActions(ctx, result.Credit)
	return result, nil
}

// convertWithRetry re-reads both balances and rebuilds the legs on every
// attempt, so a CONCURRENCY_CONFLICT from the optimistic balance update is
// retried from fresh state up to the configured bound.
func (w *Wattvault) convertWithRetry(ctx context.Context, req *ConversionRequest, sourceID, targetID string) (*ConversionResult, *model.Balance, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, nil, err
	}

	var result *ConversionResult
	var debited *model.Balance
	attempt := func() error {
		source, err := w.datasource.GetBalanceByID(ctx, sourceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		target, err := w.datasource.GetBalanceByID(ctx, targetID)
		if err != nil {
			return backoff.Permanent(err)
		}

		legs, err := w.buildConversionLegs(req, source, target)
		if err != nil {
			return backoff.Permanent(err)
		}

		source.ApplyDelta(legs.Debit.SignedDelta(), legs.Debit.CreatedAt)
		target.ApplyDelta(legs.Credit.SignedDelta(), legs.Credit.CreatedAt)

		err = w.datasource.ApplyLegs(ctx,
			[]*model.Transaction{legs.Debit, legs.Credit},
			[]*model.Balance{source, target})
		if err != nil {
			if apierror.CodeOf(err) == apierror.ErrConcurrencyConflict {
				return err
			}
			return backoff.Permanent(err)
		}
		result = legs
		debited = source
		return nil
	}

	retryPolicy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(conf.Ledger.MaxConflictRetries))
	if err := backoff.Retry(attempt, backoff.WithContext(retryPolicy, ctx)); err != nil {
		return nil, nil, err
	}
	return result, debited, nil
}

func (w *Wattvault) buildConversionLegs(req *ConversionRequest, source, target *model.Balance) (*ConversionResult, error) {
	credited := req.Amount.Mul(req.Rate)
	batchID := model.GenerateUUIDWithPrefix("bat")
	now := time.Now()

	debit := &model.Transaction{
		TransactionID:   model.GenerateUUIDWithPrefix("txn"),
		TransactionCode: model.GenerateTransactionCode(),
		BalanceID:       source.BalanceID,
		Kind:            model.KindTransferOut,
		Amount:          req.Amount,
		Fee:             model.Zero(),
		Currency:        source.Currency,
		AssetType:       source.AssetType,
		Status:          model.StatusCompleted,
		IdempotencyKey:  req.IdempotencyKey + "-out",
		BatchID:         batchID,
		Description:     req.Description,
		IsReversible:    false,
		CreatedAt:       now,
		ProcessedAt:     &now,
	}
	credit := &model.Transaction{
		TransactionID:   model.GenerateUUIDWithPrefix("txn"),
		TransactionCode: model.GenerateTransactionCode(),
		BalanceID:       target.BalanceID,
		Kind:            model.KindTransferIn,
		Amount:          credited,
		Fee:             model.Zero(),
		Currency:        target.Currency,
		AssetType:       target.AssetType,
		Status:          model.StatusCompleted,
		IdempotencyKey:  req.IdempotencyKey + "-in",
		BatchID:         batchID,
		Description:     req.Description,
		IsReversible:    false,
		CreatedAt:       now,
		ProcessedAt:     &now,
	}

	if err := debit.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), err)
	}
	if err := source.CanDebit(req.Amount); err != nil {
		switch err {
		case model.ErrFrozenBalance:
			return nil, apierror.NewAPIError(apierror.ErrFrozenBalance, err.Error(), err)
		default:
			return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, err.Error(), err)
		}
	}

	debit.ComputeNet()
	debit.SnapshotBalances(source)
	debit.Hash = debit.HashTxn()
	credit.ComputeNet()
	credit.SnapshotBalances(target)
	credit.Hash = credit.HashTxn()

	return &ConversionResult{BatchID: batchID, Debit: debit, Credit: credit}, nil
}

func (w *Wattvault) recordConversionWalletTransaction(ctx context.Context, req *ConversionRequest, credit *model.Transaction, source *model.Balance, credited decimal.Decimal, now time.Time) (*model.WalletTransaction, error) {
	wtx := &model.WalletTransaction{
		WalletTxID:      model.GenerateUUIDWithPrefix("wtx"),
		TransactionID:   credit.TransactionID,
		TokenType:       req.ToAssetType,
		SourceBalanceID: source.BalanceID,
		SourceAmount:    req.Amount,
		SourceTokenType: req.FromAssetType,
		CreatedAt:       now,
	}
	if req.Token != nil {
		wtx.ExpiresAt = req.Token.ExpiresAt
		wtx.LockedUntil = req.Token.LockedUntil
	}
	wtx.State = wtx.InitialState(now)

	requiresApproval, err := w.movementRequiresApproval(credited)
	if err != nil {
		return nil, err
	}
	wtx.RequiresApproval = requiresApproval

	if err := w.datasource.RecordWalletTransaction(ctx, wtx); err != nil {
		return nil, err
	}
	w.scheduleWalletFollowups(wtx)
	return wtx, nil
}

func (w *Wattvault) loadConversionResult(ctx context.Context, debit *model.Transaction, targetID, idempotencyKey string) (*ConversionResult, error) {
	credit, err := w.datasource.GetTransactionByIdempotencyKey(ctx, targetID, idempotencyKey+"-in")
	if err != nil {
		return nil, err
	}
	return &ConversionResult{BatchID: debit.BatchID, Debit: debit, Credit: credit}, nil
}
