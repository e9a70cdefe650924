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
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/wattvault/wattvault/internal/apierror"
	"github.com/wattvault/wattvault/internal/statements"
	"github.com/wattvault/wattvault/model"
)

// statementMatchThreshold is the minimum confidence for a fuzzy candidate to
// be reported at all. Only confidence 1.0 (exact reference and amount) is
// reconciled automatically.
const statementMatchThreshold = 0.6

// ReconcileTransaction marks a transaction as settled against an external
// record. Re-reconciling an already reconciled transaction is a no-op.
func (w *Wattvault) ReconcileTransaction(ctx context.Context, transactionID, externalRef string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Reconciling transaction")
	defer span.End()

	if _, err := requireRole(ctx, RoleAdmin, RoleOperator, RoleService); err != nil {
		return nil, err
	}

	updated, err := w.datasource.ReconcileTransaction(ctx, transactionID, externalRef, time.Now())
	if err != nil {
		return nil, logAndRecordError(span, "reconcile error", err)
	}
	if !updated {
		logrus.WithField("transaction_id", transactionID).Info("transaction already reconciled")
	}
	return w.datasource.GetTransaction(ctx, transactionID)
}

// ListUnreconciled pages through unreconciled transactions created at or
// after since. Pass the last transaction ID of the previous page as cursor to
// resume; an empty cursor starts from the beginning of the window.
func (w *Wattvault) ListUnreconciled(ctx context.Context, since time.Time, cursor string, batchSize int) ([]*model.Transaction, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	return w.datasource.GetUnreconciledTransactions(ctx, since, cursor, batchSize)
}

// MatchExternalStatement matches a batch of external statement entries
// against the unreconciled transactions in the window. Exact matches
// (reference equals the transaction's idempotency key or reference ID, with
// equal amounts) are reconciled immediately; near matches are returned for
// review but leave the ledger untouched.
func (w *Wattvault) MatchExternalStatement(ctx context.Context, entries []model.ExternalStatementEntry, since time.Time) ([]model.StatementMatch, error) {
	ctx, span := tracer.Start(ctx, "Matching external statement")
	defer span.End()

	if _, err := requireRole(ctx, RoleAdmin, RoleOperator, RoleService); err != nil {
		return nil, err
	}

	var matches []model.StatementMatch
	matchedEntries := make(map[int]bool)
	claimed := make(map[string]bool)
	cursor := ""
	for {
		batch, err := w.datasource.GetUnreconciledTransactions(ctx, since, cursor, 500)
		if err != nil {
			return nil, logAndRecordError(span, "fetch unreconciled error", err)
		}
		if len(batch) == 0 {
			break
		}
		// An entry matches at most one transaction and a transaction is
		// claimed by at most one entry, across every page of the scan.
		for i, entry := range entries {
			if matchedEntries[i] {
				continue
			}
			match, ok := bestStatementMatch(entry, batch, claimed)
			if !ok {
				continue
			}
			if match.Confidence == 1.0 {
				if _, err := w.datasource.ReconcileTransaction(ctx, match.TransactionID, entry.Reference, time.Now()); err != nil {
					return nil, logAndRecordError(span, "reconcile matched transaction error", err)
				}
			}
			matchedEntries[i] = true
			claimed[match.TransactionID] = true
			matches = append(matches, match)
		}
		cursor = batch[len(batch)-1].TransactionID
	}

	logrus.WithFields(logrus.Fields{
		"entries": len(entries),
		"matches": len(matches),
	}).Info("statement matching complete")
	return matches, nil
}

// bestStatementMatch scores one statement entry against a batch of
// transactions and returns the strongest unclaimed candidate above the
// reporting threshold.
func bestStatementMatch(entry model.ExternalStatementEntry, batch []*model.Transaction, claimed map[string]bool) (model.StatementMatch, bool) {
	var best model.StatementMatch
	found := false
	for _, txn := range batch {
		if claimed[txn.TransactionID] {
			continue
		}
		if entry.Currency != "" && txn.Currency != "" && !strings.EqualFold(entry.Currency, txn.Currency) {
			continue
		}
		confidence := scoreStatementEntry(entry, txn)
		if confidence < statementMatchThreshold {
			continue
		}
		if !found || confidence > best.Confidence {
			best = model.StatementMatch{
				Entry:         entry,
				TransactionID: txn.TransactionID,
				Confidence:    confidence,
				AmountDrift:   entry.Amount.Sub(txn.Amount).Abs(),
			}
			found = true
		}
	}
	return best, found
}

// scoreStatementEntry returns 1.0 for an exact reference-and-amount match,
// otherwise a weighted blend of amount proximity and description similarity.
func scoreStatementEntry(entry model.ExternalStatementEntry, txn *model.Transaction) float64 {
	if referenceMatches(entry.Reference, txn) && entry.Amount.Equal(txn.Amount) {
		return 1.0
	}

	amountScore := amountProximity(entry.Amount, txn.Amount)
	descriptionScore := stringSimilarity(entry.Description, txn.Description)
	return 0.6*amountScore + 0.4*descriptionScore
}

func referenceMatches(reference string, txn *model.Transaction) bool {
	if reference == "" {
		return false
	}
	if strings.EqualFold(reference, txn.IdempotencyKey) {
		return true
	}
	if txn.Reference != nil && strings.EqualFold(reference, txn.Reference.RefID()) {
		return true
	}
	return strings.EqualFold(reference, txn.ExternalRef)
}

// amountProximity maps the relative difference between two amounts onto
// [0,1], where equal amounts score 1 and a difference of 5% or more scores 0.
func amountProximity(a, b decimal.Decimal) float64 {
	larger := decimal.Max(a.Abs(), b.Abs())
	if larger.IsZero() {
		return 1.0
	}
	drift, _ := a.Sub(b).Abs().Div(larger).Float64()
	if drift >= 0.05 {
		return 0
	}
	return 1 - drift/0.05
}

// stringSimilarity compares two descriptions case-insensitively, using
// containment first and Levenshtein distance otherwise.
func stringSimilarity(str1, str2 string) float64 {
	str1 = strings.ToLower(strings.TrimSpace(str1))
	str2 = strings.ToLower(strings.TrimSpace(str2))
	if str1 == "" || str2 == "" {
		return 0
	}
	if str1 == str2 {
		return 1.0
	}
	if strings.Contains(str1, str2) || strings.Contains(str2, str1) {
		return 0.9
	}
	distance := levenshtein.DistanceForStrings([]rune(str1), []rune(str2), levenshtein.DefaultOptions)
	maxLength := len(str1)
	if len(str2) > maxLength {
		maxLength = len(str2)
	}
	return 1 - float64(distance)/float64(maxLength)
}

// ExportUnreconciledStatements writes every unreconciled transaction in the
// window to a CSV object in S3 and returns the object key. External
// settlement jobs pick the file up from there.
func (w *Wattvault) ExportUnreconciledStatements(ctx context.Context, since time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "Exporting unreconciled statements")
	defer span.End()

	if _, err := requireRole(ctx, RoleAdmin, RoleOperator, RoleService); err != nil {
		return "", err
	}

	exporter, err := statements.NewExporter()
	if err != nil {
		return "", logAndRecordError(span, "statement exporter error", err)
	}

	var all []*model.Transaction
	cursor := ""
	for {
		batch, err := w.datasource.GetUnreconciledTransactions(ctx, since, cursor, 500)
		if err != nil {
			return "", logAndRecordError(span, "fetch unreconciled error", err)
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].TransactionID
	}
	if len(all) == 0 {
		return "", apierror.NewAPIError(apierror.ErrNotFound, "No unreconciled transactions in the window", nil)
	}

	key, err := exporter.ExportUnreconciled(all, time.Now())
	if err != nil {
		return "", logAndRecordError(span, "statement export error", err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "count": len(all)}).Info("unreconciled statement exported")
	return key, nil
}
