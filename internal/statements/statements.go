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

// Package statements exports unreconciled transactions as CSV objects in S3
// so external settlement jobs can process them without database access.
package statements

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/model"
)

// Exporter writes statement files to an S3 bucket.
type Exporter struct {
	client s3iface.S3API
	bucket string
}

// NewExporter builds an Exporter from the statement export configuration.
func NewExporter() (*Exporter, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if conf.StatementExport.S3BucketName == "" {
		return nil, fmt.Errorf("statement export is not configured: missing S3 bucket name")
	}

	awsConf := aws.NewConfig().
		WithRegion(conf.StatementExport.S3Region).
		WithCredentials(credentials.NewStaticCredentials(
			conf.StatementExport.AwsAccessKeyId,
			conf.StatementExport.AwsSecretAccessKey,
			"",
		))
	if conf.StatementExport.S3Endpoint != "" {
		awsConf = awsConf.WithEndpoint(conf.StatementExport.S3Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, err
	}

	return &Exporter{client: s3.New(sess), bucket: conf.StatementExport.S3BucketName}, nil
}

// NewExporterWithClient is for tests and callers that manage their own client.
func NewExporterWithClient(client s3iface.S3API, bucket string) *Exporter {
	return &Exporter{client: client, bucket: bucket}
}

// ObjectKey returns the key used for an export taken at the given time.
func ObjectKey(at time.Time) string {
	return fmt.Sprintf("statements/%s/unreconciled-%s.csv", at.Format("2006-01-02"), at.Format("150405"))
}

// ExportUnreconciled renders the transactions as CSV and uploads them under a
// date-partitioned key. Returns the object key written.
func (e *Exporter) ExportUnreconciled(transactions []*model.Transaction, at time.Time) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"transaction_id", "balance_id", "kind", "amount", "fee", "currency", "asset_type", "status", "external_ref", "created_at"}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, txn := range transactions {
		record := []string{
			txn.TransactionID,
			txn.BalanceID,
			string(txn.Kind),
			txn.Amount.String(),
			txn.Fee.String(),
			txn.Currency,
			string(txn.AssetType),
			txn.Status,
			txn.ExternalRef,
			txn.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	key := ObjectKey(at)
	_, err := e.client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}
