// Package domain contains the shared data contracts for the registry
// processing pipeline: raw and typed transaction records, quality verdicts,
// anomaly flags and the scored output consumed by downstream collaborators.
//
// Types here carry no behavior beyond derivation helpers (composite keys,
// partition membership) so that every pipeline stage and any external
// consumer can depend on them without pulling in stage internals.
package domain
