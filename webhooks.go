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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/wattvault/wattvault/config"
)

// NewWebhook is an outbound event notification. Payload carries the record
// that changed.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// Webhook event names emitted by the services.
const (
	EventTransactionApplied  = "transaction.applied"
	EventTransactionReversed = "transaction.reversed"
	EventBalanceLow          = "balance.low"
	EventPaymentConfirmed    = "payment.confirmed"
	EventPaymentFailed       = "payment.failed"
	EventPaymentExpired      = "payment.expired"
	EventRefundCompleted     = "refund.completed"
	EventRefundFailed        = "refund.failed"
	EventWalletExpired       = "wallet.expired"
	EventWalletUnlocked      = "wallet.unlocked"
	EventInvoiceOverdue      = "invoice.overdue"
)

func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook delivery failed with status code: %d\n", resp.StatusCode)
		return nil
	}
	return nil
}

// SendWebhook enqueues an event for asynchronous delivery. When no webhook
// URL is configured the event is dropped silently.
func (w *Wattvault) SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	return w.queue.queueWebhook(newWebhook)
}

// ProcessWebhook is the asynq handler that delivers a queued webhook.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling webhook payload: %v", err)
		return err
	}
	return processHTTP(payload)
}
