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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/internal/notification"
	"github.com/wattvault/wattvault/model"
)

// CreateBalance provisions a balance bucket explicitly, with optional
// overdraft and spend-limit settings. Most balances are instead created
// implicitly by the first transaction that touches their identity tuple.
func (w *Wattvault) CreateBalance(ctx context.Context, balance model.Balance) (model.Balance, error) {
	return w.datasource.CreateBalance(ctx, balance)
}

// GetBalance loads one balance by ID.
func (w *Wattvault) GetBalance(ctx context.Context, id string) (*model.Balance, error) {
	return w.datasource.GetBalanceByID(ctx, id)
}

// GetBalanceByIdentity resolves the unique balance for an owner, asset type
// and currency, creating it empty on first touch.
func (w *Wattvault) GetBalanceByIdentity(ctx context.Context, identity model.BalanceIdentity) (*model.Balance, error) {
	return w.datasource.GetOrCreateBalance(ctx, identity)
}

func (w *Wattvault) GetAllBalances(ctx context.Context, limit, offset int) ([]model.Balance, error) {
	return w.datasource.GetAllBalances(ctx, limit, offset)
}

// FreezeBalance blocks further debits on a balance. Admin only. Credits keep
// flowing so a frozen account can still receive refunds.
func (w *Wattvault) FreezeBalance(ctx context.Context, id string) error {
	auth, err := requireRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	if err := w.datasource.SetBalanceFrozen(ctx, id, true); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"balance_id": id, "actor": auth.ActorID}).Info("balance frozen")
	return nil
}

// UnfreezeBalance lifts a freeze. Admin only.
func (w *Wattvault) UnfreezeBalance(ctx context.Context, id string) error {
	auth, err := requireRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	if err := w.datasource.SetBalanceFrozen(ctx, id, false); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"balance_id": id, "actor": auth.ActorID}).Info("balance unfrozen")
	return nil
}

// checkLowBalance emits a balance.low event when a cash balance drops under
// the configured threshold. Advisory only; it never blocks the transaction
// that triggered it.
func (w *Wattvault) checkLowBalance(balance *model.Balance) {
	conf, err := config.Fetch()
	if err != nil || conf.Notification.LowBalanceThreshold == "" {
		return
	}
	threshold, err := decimal.NewFromString(conf.Notification.LowBalanceThreshold)
	if err != nil {
		logrus.Warnf("invalid low balance threshold %q: %v", conf.Notification.LowBalanceThreshold, err)
		return
	}
	if balance.AssetType != model.AssetCashWallet || balance.Amount.GreaterThan(threshold) {
		return
	}
	go func() {
		if err := w.SendWebhook(NewWebhook{Event: EventBalanceLow, Payload: balance}); err != nil {
			notification.NotifyError(err)
		}
	}()
}
