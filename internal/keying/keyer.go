// Package keying assigns the composite transaction identifier to every
// record in a batch and surfaces duplicate keys. Duplicates indicate
// upstream data corruption: they are counted and reported, never dropped.
package keying

import (
	"context"
	"log/slog"
	"sort"

	"propsafe/internal/metrics"
	"propsafe/pkg/contracts/domain"
)

// DuplicateReport describes one composite key seen more than once.
type DuplicateReport struct {
	TransactionID string `json:"transaction_id"`
	Occurrences   int    `json:"occurrences"`
}

// Report summarizes one keying pass.
type Report struct {
	Records       int               `json:"records"`
	UniqueKeys    int               `json:"unique_keys"`
	DuplicateKeys []DuplicateReport `json:"duplicate_keys,omitempty"`
}

// Keyer derives composite keys for record batches.
type Keyer struct {
	logger *slog.Logger
}

// NewKeyer creates a keyer.
func NewKeyer(logger *slog.Logger) *Keyer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyer{logger: logger}
}

// KeyBatch assigns every record its composite key and reports duplicates.
// Records keep flowing regardless; deduplication is a downstream decision.
func (k *Keyer) KeyBatch(ctx context.Context, records []domain.Record) ([]domain.Record, Report) {
	seen := make(map[string]int, len(records))
	for i := range records {
		key := records[i].CompositeKey()
		records[i].TransactionID = key
		seen[key]++
	}

	report := Report{
		Records:    len(records),
		UniqueKeys: len(seen),
	}
	for key, count := range seen {
		if count > 1 {
			report.DuplicateKeys = append(report.DuplicateKeys, DuplicateReport{
				TransactionID: key,
				Occurrences:   count,
			})
			metrics.DuplicateKeys.Inc()
		}
	}
	sort.Slice(report.DuplicateKeys, func(i, j int) bool {
		return report.DuplicateKeys[i].TransactionID < report.DuplicateKeys[j].TransactionID
	})

	if len(report.DuplicateKeys) > 0 {
		k.logger.WarnContext(ctx, "duplicate composite keys in batch",
			slog.Int("records", report.Records),
			slog.Int("unique_keys", report.UniqueKeys),
			slog.Int("duplicated_keys", len(report.DuplicateKeys)),
		)
	} else {
		k.logger.InfoContext(ctx, "composite keys assigned",
			slog.Int("records", report.Records),
			slog.Int("unique_keys", report.UniqueKeys),
		)
	}
	return records, report
}
