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
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wattvault/wattvault/config"
	redis_db "github.com/wattvault/wattvault/internal/redis-db"
)

// Queue hands deferred work to the asynq workers: wallet expiries, payment
// expiries and webhook deliveries. Payloads carry IDs only; workers reload
// the current row before acting so a stale payload can never overwrite newer
// state.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueWalletExpiry schedules the expiry sweep for a single wallet
// transaction at its expiry instant. The task ID is the wallet transaction
// ID, so re-scheduling the same expiry is a no-op.
func (q *Queue) queueWalletExpiry(walletTxID string, expiresAt time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(walletTxID)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(walletTxID),
		asynq.Queue(cfg.Queue.WalletExpiryQueue),
		asynq.ProcessIn(time.Until(expiresAt)),
	}
	task := asynq.NewTask(cfg.Queue.WalletExpiryQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued wallet expiry: %+v", walletTxID)
	return nil
}

// queuePaymentExpiry schedules the cutoff check for a pending payment.
func (q *Queue) queuePaymentExpiry(paymentID string, expiresAt time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(paymentID)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(paymentID),
		asynq.Queue(cfg.Queue.PaymentExpiryQueue),
		asynq.ProcessIn(time.Until(expiresAt)),
	}
	task := asynq.NewTask(cfg.Queue.PaymentExpiryQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued payment expiry: %+v", paymentID)
	return nil
}

// queueWebhook enqueues an outbound webhook delivery.
func (q *Queue) queueWebhook(event NewWebhook) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, asynq.Queue(cfg.Queue.WebhookQueue))
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
