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

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wattvault/wattvault"
	"github.com/wattvault/wattvault/config"
	redis_db "github.com/wattvault/wattvault/internal/redis-db"
)

// sweepInterval paces the periodic safety-net sweeps. Scheduled queue tasks
// handle the common case; the sweeps catch anything the queue missed.
const sweepInterval = 5 * time.Minute

// paymentExpiryWindow is how long a pending payment may sit before the sweep
// expires it when no per-payment expiry was scheduled.
const paymentExpiryWindow = 24 * time.Hour

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.WalletExpiryQueue] = 2
	queues[cfg.Queue.PaymentExpiryQueue] = 2
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(v *vaultInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.WebhookQueue, wattvault.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.WalletExpiryQueue, v.vault.ProcessWalletExpiry)
	mux.HandleFunc(cfg.Queue.PaymentExpiryQueue, v.vault.ProcessPaymentExpiry)
}

// runSweeps drives the periodic safety-net sweeps: wallet token expiry and
// unlock, payment expiry and overdue invoices. Sweeps run as the service
// identity.
func runSweeps(ctx context.Context, v *vaultInstance) {
	ctx = wattvault.WithAuth(ctx, wattvault.AuthContext{
		ActorID: "worker:sweep",
		Role:    wattvault.RoleService,
	})

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := v.vault.SweepExpiredWalletTransactions(ctx, 100); err != nil {
				logrus.Errorf("wallet expiry sweep failed: %v", err)
			} else if n > 0 {
				logrus.Infof(" [*] Expired %d wallet transactions", n)
			}

			if n, err := v.vault.SweepUnlockableWalletTransactions(ctx, 100); err != nil {
				logrus.Errorf("wallet unlock sweep failed: %v", err)
			} else if n > 0 {
				logrus.Infof(" [*] Unlocked %d wallet transactions", n)
			}

			if n, err := v.vault.SweepExpiredPayments(ctx, time.Now().Add(-paymentExpiryWindow), 100); err != nil {
				logrus.Errorf("payment expiry sweep failed: %v", err)
			} else if n > 0 {
				logrus.Infof(" [*] Expired %d payments", n)
			}

			if n, err := v.vault.SweepOverdueInvoices(ctx, 100); err != nil {
				logrus.Errorf("overdue invoice sweep failed: %v", err)
			} else if n > 0 {
				logrus.Infof(" [*] Marked %d invoices overdue", n)
			}
		}
	}
}

// workerCommands defines the "workers" command. Workers consume the webhook
// and expiry queues and run the periodic sweeps.
func workerCommands(v *vaultInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start wattvault workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(v, mux)

			go runSweeps(ctx, v)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run worker server: %v", err)
			}
		},
	}

	return cmd
}
