// Package metrics exposes the audit counters required around every
// fail-closed default in the pipeline: silent data loss is forbidden, so
// each recovered field failure, fail-closed rule hit, sanitized feature and
// duplicate key increments a counter in addition to being logged.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FieldCoercionFailures counts raw fields that could not be coerced to
	// their canonical type and became missing.
	FieldCoercionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propsafe",
		Subsystem: "normalize",
		Name:      "field_coercion_failures_total",
		Help:      "Raw fields that failed type coercion and were set to missing.",
	}, []string{"field"})

	// FailClosedRuleHits counts classification rules that matched because a
	// required input was missing rather than because of its value.
	FailClosedRuleHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propsafe",
		Subsystem: "classify",
		Name:      "fail_closed_rule_hits_total",
		Help:      "Quality rules that failed closed to ERROR on missing inputs.",
	}, []string{"reason"})

	// DuplicateKeys counts composite keys seen more than once in a batch.
	DuplicateKeys = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "propsafe",
		Subsystem: "keying",
		Name:      "duplicate_keys_total",
		Help:      "Composite transaction keys duplicated within a batch.",
	})

	// SanitizedFeatures counts residual NaN feature values replaced by zero
	// in the final feature-matrix sweep.
	SanitizedFeatures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propsafe",
		Subsystem: "features",
		Name:      "sanitized_nan_total",
		Help:      "Residual NaN feature values replaced by zero, per feature column.",
	}, []string{"feature"})

	// ScoreSaturation counts per-model scores clamped to a normalization
	// bound when scoring a batch outside the fit-time distribution.
	ScoreSaturation = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propsafe",
		Subsystem: "anomaly",
		Name:      "score_saturation_total",
		Help:      "Model scores saturated at a frozen normalization bound.",
	}, []string{"model", "bound"})

	// PartitionRecords counts records written to each output partition.
	PartitionRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "propsafe",
		Subsystem: "pipeline",
		Name:      "partition_records_total",
		Help:      "Records assigned to each output partition.",
	}, []string{"partition"})
)
