// Package anomaly implements the ensemble statistical anomaly scorer: an
// isolation forest and a local-outlier-factor model fitted over the batch
// feature matrix, combined by a configurable weighted sum into one [0,1]
// score and a three-level risk classification.
//
// Both detectors here emit scores oriented so that higher means more
// anomalous; per-model min-max normalization bounds are frozen at fit
// time. Scoring a batch whose distribution drifts from the fit batch can
// saturate scores at the bounds, so saturation fractions are reported and
// counted rather than assumed safe.
package anomaly
