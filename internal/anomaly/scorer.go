package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"propsafe/internal/config"
	"propsafe/internal/metrics"
	"propsafe/pkg/contracts/domain"
)

var (
	// ErrNotFitted is returned by Score before a successful Fit.
	ErrNotFitted = errors.New("ensemble scorer is not fitted")
	// ErrAlreadyFitted is returned by Fit on a fitted scorer; fitting is
	// a one-shot transition so frozen bounds stay tied to one batch.
	ErrAlreadyFitted = errors.New("ensemble scorer is already fitted")
	// ErrEmptyBatch is returned when the fit matrix has no rows.
	ErrEmptyBatch = errors.New("cannot fit ensemble scorer on an empty batch")
)

// ruleScoreActiveFolio is the only folio status the heuristic score does
// not penalize.
const ruleScoreActiveFolio = "ACTIVO"

// ScoreReport summarizes one scoring pass, including how much of each
// model's output saturated at the frozen normalization bounds.
type ScoreReport struct {
	Records        int                    `json:"records"`
	Anomalies      int                    `json:"anomalies"`
	Cutoff         float64                `json:"cutoff"`
	ByRisk         map[domain.RiskClass]int `json:"by_risk"`
	SaturationLow  map[string]float64     `json:"saturation_low"`
	SaturationHigh map[string]float64     `json:"saturation_high"`
}

// scoreBounds holds the min-max normalization range of one model, frozen
// over the fit batch.
type scoreBounds struct {
	min float64
	max float64
}

// standardScaler centers and scales feature columns using the fit-batch
// statistics.
type standardScaler struct {
	mean []float64
	std  []float64
}

func fitScaler(x [][]float64) *standardScaler {
	width := len(x[0])
	s := &standardScaler{
		mean: make([]float64, width),
		std:  make([]float64, width),
	}
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		s.mean[j] = stat.Mean(col, nil)
		s.std[j] = stat.StdDev(col, nil)
	}
	return s
}

// transform returns the scaled copy of the matrix. Constant columns pass
// through centered only.
func (s *standardScaler) transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = v - s.mean[j]
			if s.std[j] > 0 {
				scaled[j] /= s.std[j]
			}
		}
		out[i] = scaled
	}
	return out
}

// EnsembleScorer combines the isolation forest, the local outlier factor
// and an optional heuristic rule score into one [0,1] anomaly score per
// record. The scorer is single-use: Fit freezes the scaler and the
// per-model normalization bounds, then Score may run any number of times.
type EnsembleScorer struct {
	cfg    config.ScorerConfig
	logger *slog.Logger

	forest *IsolationForest
	lof    *LocalOutlierFactor
	scaler *standardScaler

	forestBounds scoreBounds
	lofBounds    scoreBounds
	cutoff       float64

	wForest float64
	wLOF    float64
	wRules  float64

	fitted bool
}

// NewEnsembleScorer creates an unfitted scorer. Weights are renormalized
// to sum to one so callers can express them as any positive proportions.
func NewEnsembleScorer(cfg config.ScorerConfig, logger *slog.Logger) *EnsembleScorer {
	if logger == nil {
		logger = slog.Default()
	}
	total := cfg.WeightIsolation + cfg.WeightDensity + cfg.WeightRules
	return &EnsembleScorer{
		cfg:     cfg,
		logger:  logger,
		forest:  NewIsolationForest(cfg.Trees, cfg.SubsampleSize, cfg.Seed),
		lof:     NewLocalOutlierFactor(cfg.Neighbors),
		wForest: cfg.WeightIsolation / total,
		wLOF:    cfg.WeightDensity / total,
		wRules:  cfg.WeightRules / total,
	}
}

// Fitted reports whether Fit has completed.
func (s *EnsembleScorer) Fitted() bool { return s.fitted }

// Fit trains both models on the batch feature matrix, freezes the
// normalization bounds from the raw fit-batch scores and derives the
// anomaly cutoff from the contamination rate.
func (s *EnsembleScorer) Fit(ctx context.Context, x [][]float64) error {
	if s.fitted {
		return ErrAlreadyFitted
	}
	if len(x) == 0 {
		return ErrEmptyBatch
	}

	s.scaler = fitScaler(x)
	scaled := s.scaler.transform(x)

	if err := s.forest.Fit(scaled); err != nil {
		return fmt.Errorf("fitting isolation forest: %w", err)
	}
	if err := s.lof.Fit(scaled); err != nil {
		return fmt.Errorf("fitting local outlier factor: %w", err)
	}

	forestRaw := s.forest.ScoreSamples(scaled)
	lofRaw := s.lof.ScoreSamples(scaled)
	s.forestBounds = boundsOf(forestRaw)
	s.lofBounds = boundsOf(lofRaw)

	scratch := ScoreReport{
		SaturationLow:  make(map[string]float64),
		SaturationHigh: make(map[string]float64),
	}
	s.cutoff = s.fitCutoff(
		s.normalize(forestRaw, s.forestBounds, "isolation_forest", &scratch),
		s.normalize(lofRaw, s.lofBounds, "local_outlier_factor", &scratch),
	)
	s.fitted = true

	s.logger.InfoContext(ctx, "ensemble scorer fitted",
		slog.Int("records", len(x)),
		slog.Int("trees", s.cfg.Trees),
		slog.Int("neighbors", s.cfg.Neighbors),
		slog.Float64("forest_min", s.forestBounds.min),
		slog.Float64("forest_max", s.forestBounds.max),
		slog.Float64("lof_min", s.lofBounds.min),
		slog.Float64("lof_max", s.lofBounds.max),
		slog.Float64("anomaly_cutoff", s.cutoff),
	)
	return nil
}

// fitCutoff derives the anomaly decision cutoff from the configured
// contamination rate: the (1-contamination) quantile of the fit-batch
// statistical score, so roughly that fraction of a batch like the fit
// batch lands at or above it. With only a rules weight there is no
// statistical score to rank, and the absolute threshold applies.
func (s *EnsembleScorer) fitCutoff(forestNorm, lofNorm []float64) float64 {
	if s.wForest+s.wLOF <= 0 {
		return s.cfg.AnomalyThreshold
	}
	combined := make([]float64, len(forestNorm))
	for i := range combined {
		combined[i] = s.wForest*forestNorm[i] + s.wLOF*lofNorm[i]
	}
	sort.Float64s(combined)
	return stat.Quantile(1-s.cfg.Contamination, stat.Empirical, combined, nil)
}

// Score scores a batch against the fitted models. The records slice must
// align row-for-row with the feature matrix; it supplies the transaction
// ids and the fields the heuristic rule score reads.
func (s *EnsembleScorer) Score(ctx context.Context, x [][]float64, records []domain.Record) ([]domain.ScoredRecord, ScoreReport, error) {
	if !s.fitted {
		return nil, ScoreReport{}, ErrNotFitted
	}
	if len(x) != len(records) {
		return nil, ScoreReport{}, fmt.Errorf("feature matrix has %d rows but batch has %d records", len(x), len(records))
	}

	report := ScoreReport{
		Records:        len(x),
		Cutoff:         s.cutoff,
		ByRisk:         make(map[domain.RiskClass]int),
		SaturationLow:  make(map[string]float64),
		SaturationHigh: make(map[string]float64),
	}
	if len(x) == 0 {
		return nil, report, nil
	}

	scaled := s.scaler.transform(x)
	forestNorm := s.normalize(s.forest.ScoreSamples(scaled), s.forestBounds, "isolation_forest", &report)
	lofNorm := s.normalize(s.lof.ScoreSamples(scaled), s.lofBounds, "local_outlier_factor", &report)

	scored := make([]domain.ScoredRecord, len(records))
	for i := range records {
		score := s.wForest*forestNorm[i] + s.wLOF*lofNorm[i]
		if s.wRules > 0 {
			score += s.wRules * heuristicScore(&records[i])
		}

		risk := s.classify(score)
		report.ByRisk[risk]++
		anomalous := score >= s.cutoff
		if anomalous {
			report.Anomalies++
		}
		scored[i] = domain.ScoredRecord{
			TransactionID: records[i].TransactionID,
			AnomalyScore:  score,
			RiskClass:     risk,
			IsAnomaly:     anomalous,
		}
	}

	s.logger.InfoContext(ctx, "batch scored",
		slog.Int("records", report.Records),
		slog.Int("anomalies", report.Anomalies),
		slog.Int("high_risk", report.ByRisk[domain.RiskHigh]),
		slog.Int("suspicious", report.ByRisk[domain.RiskSuspicious]),
	)
	return scored, report, nil
}

// normalize min-max scales raw model scores into [0,1] against the frozen
// fit-batch bounds, clamping and counting values that land outside them.
func (s *EnsembleScorer) normalize(raw []float64, b scoreBounds, model string, report *ScoreReport) []float64 {
	out := make([]float64, len(raw))
	span := b.max - b.min
	low, high := 0, 0
	for i, v := range raw {
		if span <= 0 {
			out[i] = 0.5
			continue
		}
		n := (v - b.min) / span
		switch {
		case n < 0:
			n = 0
			low++
			metrics.ScoreSaturation.WithLabelValues(model, "low").Inc()
		case n > 1:
			n = 1
			high++
			metrics.ScoreSaturation.WithLabelValues(model, "high").Inc()
		}
		out[i] = n
	}
	if len(raw) > 0 {
		report.SaturationLow[model] = float64(low) / float64(len(raw))
		report.SaturationHigh[model] = float64(high) / float64(len(raw))
	}
	return out
}

func (s *EnsembleScorer) classify(score float64) domain.RiskClass {
	switch {
	case score >= s.cfg.HighRiskThreshold:
		return domain.RiskHigh
	case score >= s.cfg.SuspiciousThreshold:
		return domain.RiskSuspicious
	default:
		return domain.RiskNormal
	}
}

// heuristicScore is the rule-based third signal: additive penalties for
// the registry patterns reviewers flag most often, capped at 1.
func heuristicScore(r *domain.Record) float64 {
	score := 0.0
	if r.Value.Valid && r.Value.Float64 < 10_000_000 {
		score += 0.3
	}
	if r.Value.Valid && r.Value.Float64 > 5_000_000_000 {
		score += 0.2
	}
	parties := int64(0)
	if r.ReceiverCount.Valid {
		parties += r.ReceiverCount.Int64
	}
	if r.GrantorCount.Valid {
		parties += r.GrantorCount.Int64
	}
	if parties > 5 {
		score += 0.2
	}
	if r.FolioStatus != "" && r.FolioStatus != ruleScoreActiveFolio {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}

func boundsOf(scores []float64) scoreBounds {
	return scoreBounds{min: floats.Min(scores), max: floats.Max(scores)}
}
