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
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/internal/notification"
	"github.com/wattvault/wattvault/model"
)

// TokenGrantRequest credits token-typed value to an owner's wallet: reward
// points, carbon credits, production rights. The grant is a ledger credit
// plus a wallet transaction carrying expiry, lock and approval metadata.
type TokenGrantRequest struct {
	OwnerID        string
	TokenType      model.AssetType
	Currency       string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reference      model.CausingRef
	Description    string
	Token          *TokenOptions
}

// GrantTokens books the ledger credit and its wallet layer. The wallet
// transaction starts LOCKED when a future lock window is given, AVAILABLE
// otherwise, and expiry is scheduled with the workers at grant time.
func (w *Wattvault) GrantTokens(ctx context.Context, req *TokenGrantRequest) (*model.WalletTransaction, error) {
	ctx, span := tracer.Start(ctx, "Granting wallet tokens")
	defer span.End()

	txn, err := w.ApplyTransaction(ctx, &TransactionRequest{
		Identity:       model.BalanceIdentity{OwnerID: req.OwnerID, AssetType: req.TokenType, Currency: req.Currency},
		Kind:           model.KindIncome,
		Amount:         req.Amount,
		Fee:            model.Zero(),
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
		Description:    req.Description,
	})
	if err != nil {
		return nil, logAndRecordError(span, "apply grant transaction error", err)
	}

	// Replayed grant: the wallet row already exists for this ledger txn.
	if existing, err := w.datasource.GetWalletTransactionByLedgerTxn(ctx, txn.TransactionID); err == nil {
		return existing, nil
	} else if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, logAndRecordError(span, "wallet replay lookup error", err)
	}

	now := time.Now()
	wtx := &model.WalletTransaction{
		WalletTxID:    model.GenerateUUIDWithPrefix("wtx"),
		TransactionID: txn.TransactionID,
		TokenType:     req.TokenType,
		CreatedAt:     now,
	}
	if req.Token != nil {
		wtx.ExpiresAt = req.Token.ExpiresAt
		wtx.LockedUntil = req.Token.LockedUntil
	}
	wtx.State = wtx.InitialState(now)

	requiresApproval, err := w.movementRequiresApproval(req.Amount)
	if err != nil {
		return nil, err
	}
	wtx.RequiresApproval = requiresApproval

	if err := w.datasource.RecordWalletTransaction(ctx, wtx); err != nil {
		return nil, logAndRecordError(span, "record wallet transaction error", err)
	}
	w.scheduleWalletFollowups(wtx)
	return wtx, nil
}

// GetWalletTransaction loads one wallet transaction.
func (w *Wattvault) GetWalletTransaction(ctx context.Context, id string) (*model.WalletTransaction, error) {
	return w.datasource.GetWalletTransaction(ctx, id)
}

// ApproveWalletTransaction records an admin approval for a movement above
// the configured threshold.
func (w *Wattvault) ApproveWalletTransaction(ctx context.Context, id string) error {
	auth, err := requireRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	return w.datasource.ApproveWalletTransaction(ctx, id, auth.ActorID, time.Now())
}

// movementRequiresApproval applies the configured wallet approval threshold.
// An empty threshold disables approvals.
func (w *Wattvault) movementRequiresApproval(amount decimal.Decimal) (bool, error) {
	conf, err := config.Fetch()
	if err != nil {
		return false, err
	}
	if conf.Wallet.ApprovalThreshold == "" {
		return false, nil
	}
	threshold, err := decimal.NewFromString(conf.Wallet.ApprovalThreshold)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Invalid wallet approval threshold configured", err)
	}
	return amount.GreaterThan(threshold), nil
}

// scheduleWalletFollowups enqueues the expiry task for a wallet transaction
// that carries an expiry instant. Scheduling failures are reported, not
// fatal: the periodic sweep catches anything the queue missed.
func (w *Wattvault) scheduleWalletFollowups(wtx *model.WalletTransaction) {
	if wtx.ExpiresAt == nil {
		return
	}
	if err := w.queue.queueWalletExpiry(wtx.WalletTxID, *wtx.ExpiresAt); err != nil {
		notification.NotifyError(err)
	}
}

// ExpireWalletTransaction moves a due wallet transaction to EXPIRED. The
// transition is credit neutral: the underlying balance keeps the value, only
// the token layer stops treating it as spendable. Expiring an already expired
// transaction is a no-op.
func (w *Wattvault) ExpireWalletTransaction(ctx context.Context, id string) error {
	wtx, err := w.datasource.GetWalletTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !wtx.CanExpire(time.Now()) {
		return nil
	}
	if err := w.datasource.UpdateWalletTransactionState(ctx, id, wtx.State, model.WalletStateExpired); err != nil {
		// A concurrent sweep already moved it; treat as done.
		if apierror.CodeOf(err) == apierror.ErrConflict {
			return nil
		}
		return err
	}
	go func() {
		if err := w.SendWebhook(NewWebhook{Event: EventWalletExpired, Payload: wtx}); err != nil {
			notification.NotifyError(err)
		}
	}()
	return nil
}

// SweepExpiredWalletTransactions expires everything past due, in batches.
// Returns the number of transactions expired.
func (w *Wattvault) SweepExpiredWalletTransactions(ctx context.Context, batchSize int) (int, error) {
	due, err := w.datasource.GetWalletTransactionsDueForExpiry(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, wtx := range due {
		if err := w.ExpireWalletTransaction(ctx, wtx.WalletTxID); err != nil {
			logrus.Errorf("failed to expire wallet transaction %s: %v", wtx.WalletTxID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// SweepUnlockableWalletTransactions releases locked transactions whose lock
// window has lapsed.
func (w *Wattvault) SweepUnlockableWalletTransactions(ctx context.Context, batchSize int) (int, error) {
	due, err := w.datasource.GetWalletTransactionsDueForUnlock(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}
	unlocked := 0
	for _, wtx := range due {
		err := w.datasource.UpdateWalletTransactionState(ctx, wtx.WalletTxID, model.WalletStateLocked, model.WalletStateAvailable)
		if err != nil {
			if apierror.CodeOf(err) == apierror.ErrConflict {
				continue
			}
			logrus.Errorf("failed to unlock wallet transaction %s: %v", wtx.WalletTxID, err)
			continue
		}
		unlocked++
		go func(wtx *model.WalletTransaction) {
			if err := w.SendWebhook(NewWebhook{Event: EventWalletUnlocked, Payload: wtx}); err != nil {
				notification.NotifyError(err)
			}
		}(wtx)
	}
	return unlocked, nil
}

// ProcessWalletExpiry is the asynq handler for scheduled wallet expiries.
func (w *Wattvault) ProcessWalletExpiry(ctx context.Context, task *asynq.Task) error {
	var walletTxID string
	if err := json.Unmarshal(task.Payload(), &walletTxID); err != nil {
		return err
	}
	return w.ExpireWalletTransaction(ctx, walletTxID)
}
