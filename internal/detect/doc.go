// Package detect computes the cross-record business-pattern anomaly
// signals: excessive annotation activity per property-year and
// office/region geographic mismatch.
//
// Both signals are batch-level aggregates, so detection is an explicit
// two-phase operation: phase one builds the lookup tables over the full
// batch, phase two applies them per record. Flags are advisory review
// signals attached alongside the quality verdict, never altering it.
//
// The expected region per office is the statistical mode over the batch,
// not ground truth: offices legitimately serving several regions will
// produce flagged-but-valid records. That precision/recall tradeoff is
// deliberate; do not harden the flag into a validation rule without real
// office/region reference data.
package detect
