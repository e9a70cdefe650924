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
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	redlock "github.com/wattvault/wattvault/internal/lock"
	"github.com/wattvault/wattvault/internal/notification"
	"github.com/wattvault/wattvault/model"
)

var tracer = otel.Tracer("wattvault.ledger")

// TransactionRequest describes one requested ledger movement. Exactly one of
// BalanceID or Identity selects the balance; Identity creates the balance on
// first touch.
type TransactionRequest struct {
	BalanceID      string
	Identity       model.BalanceIdentity
	Kind           model.TransactionKind
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Currency       string
	IdempotencyKey string
	Reference      model.CausingRef
	Description    string
	BatchID        string
	MetaData       map[string]interface{}

	// Token options for movements that also create a wallet transaction.
	Token *TokenOptions

	// Set by ReverseTransaction so the reversal row carries its linkage and
	// is itself non-reversible.
	reversalOf string
}

// TokenOptions layer wallet semantics over a ledger credit.
type TokenOptions struct {
	ExpiresAt   *time.Time
	LockedUntil *time.Time
}

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Errorf("%s %s", msg, err)
	return err
}

func (w *Wattvault) acquireBalanceLock(ctx context.Context, balanceID string) (*redlock.Locker, error) {
	locker := redlock.ForBalance(w.redis, balanceID, model.GenerateUUIDWithPrefix("loc"))
	if err := locker.WaitLock(ctx, time.Minute, 30*time.Second); err != nil {
		return nil, err
	}
	return locker, nil
}

// resolveBalance loads the target balance by ID, or by identity with
// create-on-first-touch.
func (w *Wattvault) resolveBalance(ctx context.Context, req *TransactionRequest) (*model.Balance, error) {
	if req.BalanceID != "" {
		return w.datasource.GetBalanceByID(ctx, req.BalanceID)
	}
	return w.datasource.GetOrCreateBalance(ctx, req.Identity)
}

// ApplyTransaction validates, locks, and atomically applies a single ledger
// movement. Resubmitting with the same (balance, idempotency key) returns the
// originally applied transaction without touching the balance again, so
// callers retry network failures freely.
func (w *Wattvault) ApplyTransaction(ctx context.Context, req *TransactionRequest) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Applying transaction")
	defer span.End()

	if req.IdempotencyKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}

	balance, err := w.resolveBalance(ctx, req)
	if err != nil {
		return nil, logAndRecordError(span, "resolve balance error", err)
	}

	if stored, err := w.datasource.GetTransactionByIdempotencyKey(ctx, balance.BalanceID, req.IdempotencyKey); err == nil {
		return stored, nil
	} else if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, logAndRecordError(span, "idempotency lookup error", err)
	}

	locker, err := w.acquireBalanceLock(ctx, balance.BalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "lock acquisition error", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error("failed to release balance lock", err)
		}
	}(locker, ctx)

	txn, err := w.applyWithRetry(ctx, req, balance.BalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "apply error", err)
	}

	w.postTransactionActions(ctx, txn)
	return txn, nil
}

// applyWithRetry runs the optimistic apply loop: read fresh, validate, write
// under the version check, and retry on CONCURRENCY_CONFLICT up to the
// configured bound.
func (w *Wattvault) applyWithRetry(ctx context.Context, req *TransactionRequest, balanceID string) (*model.Transaction, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var applied *model.Transaction
	attempt := func() error {
		balance, err := w.datasource.GetBalanceByID(ctx, balanceID)
		if err != nil {
			return backoff.Permanent(err)
		}

		txn, err := w.buildTransaction(ctx, req, balance)
		if err != nil {
			return backoff.Permanent(err)
		}

		balance.ApplyDelta(txn.SignedDelta(), txn.CreatedAt)
		err = w.datasource.ApplyLegs(ctx, []*model.Transaction{txn}, []*model.Balance{balance})
		if err != nil {
			if apierror.CodeOf(err) == apierror.ErrConcurrencyConflict {
				return err
			}
			if apierror.CodeOf(err) == apierror.ErrConflict {
				// Another writer landed the same idempotency key first.
				stored, lookupErr := w.datasource.GetTransactionByIdempotencyKey(ctx, balanceID, req.IdempotencyKey)
				if lookupErr != nil {
					return backoff.Permanent(err)
				}
				applied = stored
				return nil
			}
			return backoff.Permanent(err)
		}
		applied = txn
		w.checkLowBalance(balance)
		return nil
	}

	retryPolicy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(conf.Ledger.MaxConflictRetries))
	if err := backoff.Retry(attempt, backoff.WithContext(retryPolicy, ctx)); err != nil {
		return nil, err
	}
	return applied, nil
}

// buildTransaction validates the request against the fresh balance and
// assembles the completed transaction row.
func (w *Wattvault) buildTransaction(ctx context.Context, req *TransactionRequest, balance *model.Balance) (*model.Transaction, error) {
	now := time.Now()
	txn := &model.Transaction{
		TransactionID:   model.GenerateUUIDWithPrefix("txn"),
		TransactionCode: model.GenerateTransactionCode(),
		BalanceID:       balance.BalanceID,
		Kind:            req.Kind,
		Amount:          req.Amount,
		Fee:             req.Fee,
		Currency:        req.Currency,
		AssetType:       balance.AssetType,
		Status:          model.StatusCompleted,
		IdempotencyKey:  req.IdempotencyKey,
		BatchID:         req.BatchID,
		Reference:       req.Reference,
		Description:     req.Description,
		IsReversible:    req.reversalOf == "",
		ReversalOf:      req.reversalOf,
		CreatedAt:       now,
		ProcessedAt:     &now,
		MetaData:        req.MetaData,
	}
	if txn.Currency == "" {
		txn.Currency = balance.Currency
	}

	if err := txn.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), err)
	}
	if txn.Currency != balance.Currency {
		return nil, apierror.NewAPIError(apierror.ErrCurrencyMismatch, "Transaction currency does not match balance currency", nil)
	}

	if txn.Kind.IsDebit() {
		total := txn.Amount.Add(txn.Fee)
		if err := balance.CanDebit(total); err != nil {
			switch err {
			case model.ErrFrozenBalance:
				return nil, apierror.NewAPIError(apierror.ErrFrozenBalance, err.Error(), err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, err.Error(), err)
			}
		}
		if err := w.checkSpendLimits(ctx, balance, total); err != nil {
			return nil, err
		}
	}

	txn.ComputeNet()
	txn.SnapshotBalances(balance)
	txn.Hash = txn.HashTxn()
	return txn, nil
}

// checkSpendLimits enforces the rolling daily and monthly debit caps. A zero
// limit means unlimited.
func (w *Wattvault) checkSpendLimits(ctx context.Context, balance *model.Balance, total decimal.Decimal) error {
	now := time.Now()
	if balance.DailyLimit.Sign() > 0 {
		spent, err := w.datasource.SumDebitsSince(ctx, balance.BalanceID, now.Add(-24*time.Hour))
		if err != nil {
			return err
		}
		if spent.Add(total).GreaterThan(balance.DailyLimit) {
			return apierror.NewAPIError(apierror.ErrSpendLimitExceeded, "Daily spend limit exceeded", nil)
		}
	}
	if balance.MonthlyLimit.Sign() > 0 {
		spent, err := w.datasource.SumDebitsSince(ctx, balance.BalanceID, now.AddDate(0, -1, 0))
		if err != nil {
			return err
		}
		if spent.Add(total).GreaterThan(balance.MonthlyLimit) {
			return apierror.NewAPIError(apierror.ErrSpendLimitExceeded, "Monthly spend limit exceeded", nil)
		}
	}
	return nil
}

// ReverseTransaction books an exact compensating transaction for a completed
// one and links the pair. The reversal amount is the original's applied
// delta, fee zero, so the balance lands exactly where it would have been. A
// transaction can be reversed once; the reversal itself is not reversible.
func (w *Wattvault) ReverseTransaction(ctx context.Context, originalID string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Reversing transaction")
	defer span.End()

	original, err := w.datasource.GetTransaction(ctx, originalID)
	if err != nil {
		return nil, logAndRecordError(span, "fetch transaction error", err)
	}

	if original.Status != model.StatusCompleted || !original.IsReversible || original.ReversalOf != "" {
		return nil, apierror.NewAPIError(apierror.ErrReversalNotAllowed, "Transaction cannot be reversed", nil)
	}
	if original.ReversalID != "" {
		return nil, apierror.NewAPIError(apierror.ErrReversalNotAllowed, "Transaction is already reversed", nil)
	}

	locker, err := w.acquireBalanceLock(ctx, original.BalanceID)
	if err != nil {
		return nil, logAndRecordError(span, "lock acquisition error", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error("failed to release balance lock", err)
		}
	}(locker, ctx)

	reversalReq := &TransactionRequest{
		BalanceID:      original.BalanceID,
		Kind:           original.Kind.Opposite(),
		Amount:         original.SignedDelta().Abs(),
		Fee:            model.Zero(),
		Currency:       original.Currency,
		IdempotencyKey: "rev-" + original.TransactionID,
		Description:    "Reversal of " + original.TransactionID,
		reversalOf:     original.TransactionID,
	}

	reversal, err := w.applyReversal(ctx, reversalReq, original)
	if err != nil {
		return nil, logAndRecordError(span, "apply reversal error", err)
	}

	go func() {
		if err := w.SendWebhook(NewWebhook{Event: EventTransactionReversed, Payload: reversal}); err != nil {
			notification.NotifyError(err)
		}
	}()
	return reversal, nil
}

func (w *Wattvault) applyReversal(ctx context.Context, req *TransactionRequest, original *model.Transaction) (*model.Transaction, error) {
	if stored, err := w.datasource.GetTransactionByIdempotencyKey(ctx, original.BalanceID, req.IdempotencyKey); err == nil {
		// The reversal leg may have committed while the link never landed,
		// so a replay re-issues it. LinkReversal is a no-op when the
		// original already points at this reversal.
		if err := w.datasource.LinkReversal(ctx, original.TransactionID, stored.TransactionID, time.Now()); err != nil {
			return nil, err
		}
		return stored, nil
	} else if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, err
	}

	reversal, err := w.applyReversalWithLink(ctx, req, original)
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func (w *Wattvault) applyReversalWithLink(ctx context.Context, req *TransactionRequest, original *model.Transaction) (*model.Transaction, error) {
	reversal, err := w.applyWithRetry(ctx, req, original.BalanceID)
	if err != nil {
		return nil, err
	}
	// The reversal row carries reversal_of from birth; the original gains
	// reversal_id here, after the apply committed.
	if err := w.datasource.LinkReversal(ctx, original.TransactionID, reversal.TransactionID, time.Now()); err != nil {
		return nil, err
	}
	return reversal, nil
}

// GetTransaction returns a single ledger transaction by ID.
func (w *Wattvault) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return w.datasource.GetTransaction(ctx, id)
}

// GetLedgerHistory pages the transactions of one balance, newest first.
func (w *Wattvault) GetLedgerHistory(ctx context.Context, balanceID string, limit, offset int) ([]*model.Transaction, error) {
	return w.datasource.GetTransactionsForBalance(ctx, balanceID, limit, offset)
}

func (w *Wattvault) postTransactionActions(_ context.Context, txn *model.Transaction) {
	go func() {
		if err := w.SendWebhook(NewWebhook{Event: EventTransactionApplied, Payload: txn}); err != nil {
			notification.NotifyError(err)
		}
	}()
}
