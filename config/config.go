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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"

	// Retry ceiling for optimistic-lock conflicts inside the ledger engine.
	DefaultMaxConflictRetries = 5
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL    bool   `json:"ssl" envconfig:"WATTVAULT_SERVER_SSL"`
	Secure bool   `json:"secure" envconfig:"WATTVAULT_SERVER_SECURE"`
	// SecretKey is the admin master key. OperatorKey and ServiceKey grant
	// the lesser roles; leaving one empty disables that role over HTTP.
	SecretKey   string `json:"secret_key" envconfig:"WATTVAULT_SERVER_SECRET_KEY"`
	OperatorKey string `json:"operator_key" envconfig:"WATTVAULT_SERVER_OPERATOR_KEY"`
	ServiceKey  string `json:"service_key" envconfig:"WATTVAULT_SERVER_SERVICE_KEY"`
	Domain      string `json:"domain" envconfig:"WATTVAULT_SERVER_SSL_DOMAIN"`
	Email       string `json:"ssl_email" envconfig:"WATTVAULT_SERVER_SSL_EMAIL"`
	Port        string `json:"port" envconfig:"WATTVAULT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"WATTVAULT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"WATTVAULT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"WATTVAULT_REDIS_SKIP_TLS_VERIFY"`
}

// GatewayConfig points at the external payment gateway. The wire protocol is
// the gateway's business; we only carry the endpoint and credentials.
type GatewayConfig struct {
	URL        string `json:"url" envconfig:"WATTVAULT_GATEWAY_URL"`
	APIKey     string `json:"api_key" envconfig:"WATTVAULT_GATEWAY_API_KEY"`
	Name       string `json:"name" envconfig:"WATTVAULT_GATEWAY_NAME"`
	MaxRetries int    `json:"max_retries" envconfig:"WATTVAULT_GATEWAY_MAX_RETRIES"`
}

type LedgerConfig struct {
	MaxConflictRetries int `json:"max_conflict_retries" envconfig:"WATTVAULT_LEDGER_MAX_CONFLICT_RETRIES"`
}

// RefundConfig carries the auto-approval threshold: refund requests at or
// below it skip the human approval step.
type RefundConfig struct {
	AutoApprovalThreshold string `json:"auto_approval_threshold" envconfig:"WATTVAULT_REFUND_AUTO_APPROVAL_THRESHOLD"`
}

// WalletConfig carries the approval threshold for large token movements and
// the queue names for expiry sweeps.
type WalletConfig struct {
	ApprovalThreshold string `json:"approval_threshold" envconfig:"WATTVAULT_WALLET_APPROVAL_THRESHOLD"`
}

type QueueConfig struct {
	WalletExpiryQueue  string `json:"wallet_expiry_queue" envconfig:"WATTVAULT_QUEUE_WALLET_EXPIRY"`
	WebhookQueue       string `json:"webhook_queue" envconfig:"WATTVAULT_QUEUE_WEBHOOK"`
	PaymentExpiryQueue string `json:"payment_expiry_queue" envconfig:"WATTVAULT_QUEUE_PAYMENT_EXPIRY"`
}

// StatementExportConfig drives the S3 export of unreconciled statements for
// external settlement jobs.
type StatementExportConfig struct {
	AwsAccessKeyId     string `json:"aws_access_key_id" envconfig:"WATTVAULT_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"WATTVAULT_AWS_SECRET_ACCESS_KEY"`
	S3Endpoint         string `json:"s3_endpoint" envconfig:"WATTVAULT_S3_ENDPOINT"`
	S3BucketName       string `json:"s3_bucket_name" envconfig:"WATTVAULT_S3_BUCKET_NAME"`
	S3Region           string `json:"s3_region" envconfig:"WATTVAULT_S3_REGION"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"WATTVAULT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"WATTVAULT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"WATTVAULT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
	// LowBalanceThreshold triggers a balance.low event when a debit leaves
	// less than this amount behind. Empty disables the check.
	LowBalanceThreshold string `json:"low_balance_threshold" envconfig:"WATTVAULT_LOW_BALANCE_THRESHOLD"`
}

type Configuration struct {
	ProjectName     string                `json:"project_name" envconfig:"WATTVAULT_PROJECT_NAME"`
	Server          ServerConfig          `json:"server"`
	DataSource      DataSourceConfig      `json:"data_source"`
	Redis           RedisConfig           `json:"redis"`
	Gateway         GatewayConfig         `json:"gateway"`
	Ledger          LedgerConfig          `json:"ledger"`
	Refund          RefundConfig          `json:"refund"`
	Wallet          WalletConfig          `json:"wallet"`
	Queue           QueueConfig           `json:"queue"`
	StatementExport StatementExportConfig `json:"statement_export"`
	Notification    Notification          `json:"notification"`
	RateLimit       RateLimitConfig       `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("wattvault", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called wattvault.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "WattVault Server"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Ledger.MaxConflictRetries <= 0 {
		cnf.Ledger.MaxConflictRetries = DefaultMaxConflictRetries
	}

	if cnf.Gateway.MaxRetries <= 0 {
		cnf.Gateway.MaxRetries = 3
	}
	if cnf.Gateway.Name == "" {
		cnf.Gateway.Name = "default"
	}

	if cnf.Refund.AutoApprovalThreshold == "" {
		cnf.Refund.AutoApprovalThreshold = "0"
	}
	if cnf.Wallet.ApprovalThreshold == "" {
		cnf.Wallet.ApprovalThreshold = "0"
	}

	if cnf.Queue.WalletExpiryQueue == "" {
		cnf.Queue.WalletExpiryQueue = "wallet_expiry_queue"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook_queue"
	}
	if cnf.Queue.PaymentExpiryQueue == "" {
		cnf.Queue.PaymentExpiryQueue = "payment_expiry_queue"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
