package detect

import (
	"context"
	"log/slog"

	"propsafe/internal/config"
	"propsafe/pkg/contracts/domain"
)

// activityKey groups annotations by property and filing year.
type activityKey struct {
	matricula string
	year      int64
}

// Lookups holds the batch-level aggregate tables built in phase one.
// Building them is separated from applying them so the memory cost is
// visible and application can be parallelized safely.
type Lookups struct {
	// annotations counts records per (property, year) group.
	annotations map[activityKey]int
	// expectedRegion maps an issuing-office code to its most frequent
	// region across the batch.
	expectedRegion map[int64]string
}

// Report summarizes one detection pass.
type Report struct {
	Records           int     `json:"records"`
	ExcessiveActivity int     `json:"excessive_activity"`
	GeoMismatches     int     `json:"geo_mismatches"`
	GeoMismatchRate   float64 `json:"geo_mismatch_rate"`
	OfficesObserved   int     `json:"offices_observed"`
}

// Detector attaches the business-pattern anomaly flags to a batch.
type Detector struct {
	threshold int
	logger    *slog.Logger
}

// NewDetector creates a detector with the configured activity threshold.
func NewDetector(cfg config.PipelineConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{threshold: cfg.ActivityThreshold, logger: logger}
}

// BuildLookups runs phase one: one pass over the full batch to build the
// annotation-count and expected-region tables.
func (d *Detector) BuildLookups(records []domain.Record) *Lookups {
	lk := &Lookups{
		annotations:    make(map[activityKey]int),
		expectedRegion: make(map[int64]string),
	}

	regionCounts := make(map[int64]map[string]int)
	for i := range records {
		r := &records[i]
		if r.Matricula != "" && r.Year.Valid {
			lk.annotations[activityKey{r.Matricula, r.Year.Int64}]++
		}
		if r.ORIP.Valid && r.Departamento != "" {
			byRegion := regionCounts[r.ORIP.Int64]
			if byRegion == nil {
				byRegion = make(map[string]int)
				regionCounts[r.ORIP.Int64] = byRegion
			}
			byRegion[r.Departamento]++
		}
	}

	// Modal region per office. Ties break lexicographically so the table
	// is deterministic across runs.
	for office, byRegion := range regionCounts {
		var best string
		bestCount := -1
		for region, count := range byRegion {
			if count > bestCount || (count == bestCount && region < best) {
				best = region
				bestCount = count
			}
		}
		lk.expectedRegion[office] = best
	}
	return lk
}

// ExpectedRegion returns the modal region for an office code.
func (lk *Lookups) ExpectedRegion(office int64) (string, bool) {
	region, ok := lk.expectedRegion[office]
	return region, ok
}

// AnnotationCount returns the batch-wide annotation count for a
// property-year group.
func (lk *Lookups) AnnotationCount(matricula string, year int64) int {
	return lk.annotations[activityKey{matricula, year}]
}

// Apply runs phase two: attaches the flags derived from the lookup tables
// to every record. Flags are immutable after this pass.
func (d *Detector) Apply(ctx context.Context, records []domain.Record, lk *Lookups) ([]domain.Record, Report) {
	report := Report{Records: len(records), OfficesObserved: len(lk.expectedRegion)}

	for i := range records {
		r := &records[i]

		if r.Matricula != "" && r.Year.Valid {
			r.AnnotationsPerYear = lk.AnnotationCount(r.Matricula, r.Year.Int64)
		}
		r.ExcessiveActivity = r.AnnotationsPerYear > d.threshold
		if r.ExcessiveActivity {
			report.ExcessiveActivity++
		}

		// Advisory signal only: requires both codes present.
		if r.ORIP.Valid && r.Departamento != "" {
			if expected, ok := lk.ExpectedRegion(r.ORIP.Int64); ok && expected != r.Departamento {
				r.GeoMismatch = true
				report.GeoMismatches++
			}
		}

		r.FlagCount = 0
		if r.ExcessiveActivity {
			r.FlagCount++
		}
		if r.GeoMismatch {
			r.FlagCount++
		}
	}

	if report.Records > 0 {
		report.GeoMismatchRate = float64(report.GeoMismatches) / float64(report.Records)
	}

	d.logger.InfoContext(ctx, "business-pattern detection completed",
		slog.Int("records", report.Records),
		slog.Int("excessive_activity", report.ExcessiveActivity),
		slog.Int("geo_mismatches", report.GeoMismatches),
		slog.Float64("geo_mismatch_rate", report.GeoMismatchRate),
		slog.Int("activity_threshold", d.threshold),
	)
	return records, report
}

// DetectBatch runs both phases over one batch.
func (d *Detector) DetectBatch(ctx context.Context, records []domain.Record) ([]domain.Record, Report) {
	return d.Apply(ctx, records, d.BuildLookups(records))
}
