package classify

import (
	"context"
	"log/slog"
	"strings"

	"propsafe/internal/config"
	"propsafe/internal/metrics"
	"propsafe/pkg/contracts/domain"
)

// rule is one entry in the ordered classification table. failsClosed
// reports whether the match was caused by a missing input rather than an
// implausible value, so the audit counters can tell the two apart.
type rule struct {
	severity  domain.Quality
	reason    domain.Reason
	predicate func(*domain.Record) (matched, failsClosed bool)
}

// Report summarizes one classification pass.
type Report struct {
	Records        int            `json:"records"`
	OK             int            `json:"ok"`
	Warnings       int            `json:"warnings"`
	Errors         int            `json:"errors"`
	ByReason       map[string]int `json:"by_reason"`
	FailClosedHits map[string]int `json:"fail_closed_hits,omitempty"`
}

// Classifier applies the ordered business rules to normalized records.
type Classifier struct {
	cfg    config.PipelineConfig
	rules  []rule
	logger *slog.Logger
}

// NewClassifier builds the rule table from the configured thresholds.
func NewClassifier(cfg config.PipelineConfig, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{cfg: cfg, logger: logger}
	c.rules = c.buildRules()
	return c
}

// buildRules assembles the fixed-priority rule list. Order is load-bearing:
// ERROR rules first, in their documented priority, then WARNING rules.
func (c *Classifier) buildRules() []rule {
	accepted := make(map[string]struct{}, len(c.cfg.AcceptedZones))
	for _, z := range c.cfg.AcceptedZones {
		accepted[strings.ToUpper(strings.TrimSpace(z))] = struct{}{}
	}

	return []rule{
		{
			severity: domain.QualityError,
			reason:   domain.ReasonInvalidMarket,
			predicate: func(r *domain.Record) (bool, bool) {
				// Missing or unparseable market indicator.
				return !r.MarketIndicator.Valid, !r.MarketIndicator.Valid
			},
		},
		{
			severity: domain.QualityError,
			reason:   domain.ReasonInvalidYear,
			predicate: func(r *domain.Record) (bool, bool) {
				if !r.Year.Valid {
					return true, true
				}
				return r.Year.Int64 < c.cfg.YearMin || r.Year.Int64 > c.cfg.YearMax, false
			},
		},
		{
			severity: domain.QualityError,
			reason:   domain.ReasonInvalidGeo,
			predicate: func(r *domain.Record) (bool, bool) {
				missing := r.Departamento == "" || r.Municipio == ""
				return missing, missing
			},
		},
		{
			severity: domain.QualityError,
			reason:   domain.ReasonMarketNoValue,
			predicate: func(r *domain.Record) (bool, bool) {
				// The contextual rule: zero or missing value is only an
				// error on market-relevant acts.
				if !(r.MarketIndicator.Valid && r.MarketIndicator.Bool) {
					return false, false
				}
				if !r.Value.Valid {
					return true, true
				}
				return r.Value.Float64 == 0, false
			},
		},
		{
			severity: domain.QualityError,
			reason:   domain.ReasonExtremeValue,
			predicate: func(r *domain.Record) (bool, bool) {
				// Ceiling dominates regardless of market relevance.
				return r.Value.Valid && r.Value.Float64 > c.cfg.ValueCeiling, false
			},
		},
		{
			severity: domain.QualityWarning,
			reason:   domain.ReasonImplausiblyLow,
			predicate: func(r *domain.Record) (bool, bool) {
				if !c.valueBearingAct(r.ActName) || !r.Value.Valid {
					return false, false
				}
				return r.Value.Float64 > 0 && r.Value.Float64 < c.cfg.ValueFloor, false
			},
		},
		{
			severity: domain.QualityWarning,
			reason:   domain.ReasonUnknownZone,
			predicate: func(r *domain.Record) (bool, bool) {
				_, ok := accepted[r.Zone]
				return !ok, false
			},
		},
	}
}

// valueBearingAct reports whether the act name matches a category expected
// to carry a real price (sale, mortgage, loan, ...).
func (c *Classifier) valueBearingAct(actName string) bool {
	for _, token := range c.cfg.ValueBearingActs {
		if strings.Contains(actName, strings.ToUpper(token)) {
			return true
		}
	}
	return false
}

// ClassifyBatch assigns every record its quality verdict and the
// independent value-valid-for-modeling bit. Verdicts are immutable after
// this pass.
func (c *Classifier) ClassifyBatch(ctx context.Context, records []domain.Record) ([]domain.Record, Report) {
	report := Report{
		Records:        len(records),
		ByReason:       make(map[string]int),
		FailClosedHits: make(map[string]int),
	}

	for i := range records {
		c.classify(&records[i], &report)
	}

	c.logger.InfoContext(ctx, "quality classification completed",
		slog.Int("records", report.Records),
		slog.Int("ok", report.OK),
		slog.Int("warnings", report.Warnings),
		slog.Int("errors", report.Errors),
	)
	if len(report.FailClosedHits) > 0 {
		c.logger.WarnContext(ctx, "rules failed closed on missing inputs",
			slog.Any("hits", report.FailClosedHits),
		)
	}
	return records, report
}

func (c *Classifier) classify(r *domain.Record, report *Report) {
	r.MarketRelevant = r.MarketIndicator.Valid && r.MarketIndicator.Bool

	r.Quality = domain.QualityOK
	r.Reason = domain.ReasonNone
	for _, rl := range c.rules {
		matched, failedClosed := rl.predicate(r)
		if !matched {
			continue
		}
		r.Quality = rl.severity
		r.Reason = rl.reason
		if failedClosed {
			report.FailClosedHits[string(rl.reason)]++
			metrics.FailClosedRuleHits.WithLabelValues(string(rl.reason)).Inc()
		}
		break
	}

	// Value validity for modeling is independent of the verdict text: it
	// gates the model-ready partition on its own.
	r.ValueValid = r.MarketRelevant &&
		r.Value.Valid &&
		r.Value.Float64 >= c.cfg.ValueFloor &&
		r.Value.Float64 <= c.cfg.ValueCeiling &&
		r.Quality == domain.QualityOK

	switch r.Quality {
	case domain.QualityOK:
		report.OK++
	case domain.QualityWarning:
		report.Warnings++
		report.ByReason[string(r.Reason)]++
	case domain.QualityError:
		report.Errors++
		report.ByReason[string(r.Reason)]++
	}
}
