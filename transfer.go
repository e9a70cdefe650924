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
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	redlock "github.com/wattvault/wattvault/internal/lock"
	"github.com/wattvault/wattvault/model"
)

// TransferRequest moves value between two balances of the same asset type
// and currency. The fee rides on the credit leg: the source loses exactly
// Amount, the destination receives Amount minus Fee, and the difference is
// the platform's retained fee.
type TransferRequest struct {
	SourceBalanceID      string
	DestinationBalanceID string
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	Currency             string
	IdempotencyKey       string
	// BatchID groups the two legs with related transactions. Left empty, a
	// fresh batch id is generated for the pair.
	BatchID     string
	Reference   model.CausingRef
	Description string
	MetaData    map[string]interface{}
}

// TransferResult is the pair of legs one transfer produced.
type TransferResult struct {
	BatchID string             `json:"batch_id"`
	Debit   *model.Transaction `json:"debit"`
	Credit  *model.Transaction `json:"credit"`
}

// Transfer books the debit and credit legs of a balance-to-balance movement
// atomically: both legs and both balance updates commit in one database
// transaction, under locks on both balances. Replays with the same
// idempotency key return the original pair.
func (w *Wattvault) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	ctx, span := tracer.Start(ctx, "Transferring between balances")
	defer span.End()

	if req.IdempotencyKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}
	if req.SourceBalanceID == req.DestinationBalanceID {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Source and destination balances must differ", nil)
	}

	source, err := w.datasource.GetBalanceByID(ctx, req.SourceBalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch source balance error", err)
	}
	destination, err := w.datasource.GetBalanceByID(ctx, req.DestinationBalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch destination balance error", err)
	}

	if source.AssetType != destination.AssetType {
		return nil, apierror.NewAPIError(apierror.ErrCurrencyMismatch, "Source and destination asset types do not match", nil)
	}
	if source.Currency != destination.Currency {
		return nil, apierror.NewAPIError(apierror.ErrCurrencyMismatch, "Source and destination currencies do not match", nil)
	}

	// Replay check on the debit leg is enough: legs commit together, so
	// either both exist or neither does.
	if stored, err := w.datasource.GetTransactionByIdempotencyKey(ctx, source.BalanceID, req.IdempotencyKey+"-out"); err == nil {
		return w.loadTransferResult(ctx, stored, destination.BalanceID, req.IdempotencyKey)
	} else if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, logAndRecordError(span, "idempotency lookup error", err)
	}

	unlock, err := w.lockBalancesInOrder(ctx, source.BalanceID, destination.BalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "lock acquisition error", err)
	}
	defer unlock()

	result, err := w.transferWithRetry(ctx, req)
	if err != nil {
		return nil, logAndRecordError(span, "transfer apply error", err)
	}

	w.postTransactionActions(ctx, result.Debit)
	w.postTransactionActions(ctx, result.Credit)
	return result, nil
}

// lockBalancesInOrder takes both balance locks in lexicographic ID order so
// two opposing transfers cannot deadlock.
func (w *Wattvault) lockBalancesInOrder(ctx context.Context, balanceIDs ...string) (func(), error) {
	ids := append([]string{}, balanceIDs...)
	sort.Strings(ids)

	lockers := make([]*redlock.Locker, 0, len(ids))
	unlock := func() {
		for i := len(lockers) - 1; i >= 0; i-- {
			if err := lockers[i].Unlock(context.Background()); err != nil {
				logrus.Error("failed to release balance lock", err)
			}
		}
	}

	for _, id := range ids {
		locker := redlock.ForBalance(w.redis, id, model.GenerateUUIDWithPrefix("loc"))
		if err := locker.WaitLock(ctx, time.Minute, 30*time.Second); err != nil {
			unlock()
			return nil, err
		}
		lockers = append(lockers, locker)
	}
	return unlock, nil
}

func (w *Wattvault) transferWithRetry(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var result *TransferResult
	attempt := func() error {
		source, err := w.datasource.GetBalanceByID(ctx, req.SourceBalanceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		destination, err := w.datasource.GetBalanceByID(ctx, req.DestinationBalanceID)
		if err != nil {
			return backoff.Permanent(err)
		}

		legs, err := w.buildTransferLegs(ctx, req, source, destination)
		if err != nil {
			return backoff.Permanent(err)
		}

		source.ApplyDelta(legs.Debit.SignedDelta(), legs.Debit.CreatedAt)
		destination.ApplyDelta(legs.Credit.SignedDelta(), legs.Credit.CreatedAt)

		err = w.datasource.ApplyLegs(ctx,
			[]*model.Transaction{legs.Debit, legs.Credit},
			[]*model.Balance{source, destination})
		if err != nil {
			if apierror.CodeOf(err) == apierror.ErrConcurrencyConflict {
				return err
			}
			return backoff.Permanent(err)
		}
		result = legs
		w.checkLowBalance(source)
		return nil
	}

	retryPolicy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(conf.Ledger.MaxConflictRetries))
	if err := backoff.Retry(attempt, backoff.WithContext(retryPolicy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Wattvault) buildTransferLegs(ctx context.Context, req *TransferRequest, source, destination *model.Balance) (*TransferResult, error) {
	batchID := req.BatchID
	if batchID == "" {
		batchID = model.GenerateUUIDWithPrefix("bat")
	}
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
		Reference:       req.Reference,
		Description:     req.Description,
		IsReversible:    true,
		CreatedAt:       now,
		ProcessedAt:     &now,
		MetaData:        req.MetaData,
	}
	credit := &model.Transaction{
		TransactionID:   model.GenerateUUIDWithPrefix("txn"),
		TransactionCode: model.GenerateTransactionCode(),
		BalanceID:       destination.BalanceID,
		Kind:            model.KindTransferIn,
		Amount:          req.Amount,
		Fee:             req.Fee,
		Currency:        destination.Currency,
		AssetType:       destination.AssetType,
		Status:          model.StatusCompleted,
		IdempotencyKey:  req.IdempotencyKey + "-in",
		BatchID:         batchID,
		Reference:       req.Reference,
		Description:     req.Description,
		IsReversible:    true,
		CreatedAt:       now,
		ProcessedAt:     &now,
		MetaData:        req.MetaData,
	}

	if err := debit.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), err)
	}
	if err := credit.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), err)
	}
	if req.Fee.GreaterThanOrEqual(req.Amount) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Fee must be less than the transferred amount", nil)
	}

	if err := source.CanDebit(req.Amount); err != nil {
		switch err {
		case model.ErrFrozenBalance:
			return nil, apierror.NewAPIError(apierror.ErrFrozenBalance, err.Error(), err)
		default:
			return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, err.Error(), err)
		}
	}
	if err := w.checkSpendLimits(ctx, source, req.Amount); err != nil {
		return nil, err
	}

	debit.ComputeNet()
	debit.SnapshotBalances(source)
	debit.Hash = debit.HashTxn()
	credit.ComputeNet()
	credit.SnapshotBalances(destination)
	credit.Hash = credit.HashTxn()

	return &TransferResult{BatchID: batchID, Debit: debit, Credit: credit}, nil
}

// loadTransferResult reassembles the result pair of a replayed transfer from
// its stored legs.
func (w *Wattvault) loadTransferResult(ctx context.Context, debit *model.Transaction, destinationID, idempotencyKey string) (*TransferResult, error) {
	credit, err := w.datasource.GetTransactionByIdempotencyKey(ctx, destinationID, idempotencyKey+"-in")
	if err != nil {
		return nil, err
	}
	return &TransferResult{BatchID: debit.BatchID, Debit: debit, Credit: credit}, nil
}
