// Package features converts cleaned registry records into fixed-width
// numeric vectors for the anomaly models. The mapping is a pure function
// of record and configuration: the same record always yields a
// bit-identical vector. Fields absent from a source schema contribute
// zeros so one encoder tolerates schema variation across data sources.
package features

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"propsafe/internal/config"
	"propsafe/internal/metrics"
	"propsafe/pkg/contracts/domain"
)

// epoch anchors the recency day-count feature.
var epoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// featureNames lists every feature column in its fixed vector order.
// The layout groups temporal, value, area, activity, zone, predio-subtype,
// anomaly-flag, act-code and party-count features; area columns are zero
// placeholders because this source carries no surface measurements.
var featureNames = []string{
	"year", "month", "quarter", "day_of_week", "is_weekend", "days_since_2015",
	"valor_acto", "log_valor", "valor_millones", "valor_miles_millones",
	"valor_bajo", "valor_medio", "valor_alto",
	"area_terreno", "area_construida", "area_total",
	"log_area_terreno", "log_area_construida", "ratio_construccion",
	"valor_m2_terreno", "valor_m2_construida",
	"anotaciones_por_anio", "log_anotaciones", "actividad_alta",
	"es_urbano", "es_rural", "sin_zona",
	"predio_nph", "predio_matriz", "predio_matriz_nph",
	"flag_actividad_excesiva", "flag_geo_discrepancia", "total_flags_anomalia", "tiene_valor",
	"cod_naturaleza_num", "cod_naturaleza_grupo",
	"count_a", "count_de", "predios_nuevos",
}

// Width is the fixed feature-vector length.
const Width = 39

// Report summarizes one feature-engineering pass, including the residual
// NaN values sanitized to zero per column.
type Report struct {
	Records       int            `json:"records"`
	Width         int            `json:"width"`
	SanitizedNaNs map[string]int `json:"sanitized_nans,omitempty"`
}

// Engineer builds feature matrices from cleaned record batches.
type Engineer struct {
	cfg    config.FeatureConfig
	logger *slog.Logger
}

// NewEngineer creates a feature engineer.
func NewEngineer(cfg config.FeatureConfig, logger *slog.Logger) *Engineer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engineer{cfg: cfg, logger: logger}
}

// FeatureNames returns the feature columns in vector order.
func (e *Engineer) FeatureNames() []string {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return names
}

// Transform converts one cleaned record into its feature vector. Missing
// source fields default to zero; no error paths exist here by contract.
func (e *Engineer) Transform(r *domain.Record) []float64 {
	v := make([]float64, Width)

	// Temporal. Only the filing year survives into this source; month,
	// quarter and weekday get mid-range defaults matching the original
	// year-only encoding.
	if r.Year.Valid {
		year := float64(r.Year.Int64)
		v[0] = year
		v[1] = 6
		v[2] = 2
		v[3] = 3
		v[4] = 0
		v[5] = (year - float64(epoch.Year())) * 365
	}

	// Value.
	if r.Value.Valid {
		value := r.Value.Float64
		v[6] = value
		v[7] = math.Log1p(value)
		v[8] = value / 1_000_000
		v[9] = value / 1_000_000_000
		v[10] = indicator(value < e.cfg.LowValueMax)
		v[11] = indicator(value >= e.cfg.LowValueMax && value < e.cfg.HighValueMin)
		v[12] = indicator(value >= e.cfg.HighValueMin)
	}

	// Area placeholders v[13..20] stay zero.

	// Activity.
	annotations := float64(r.AnnotationsPerYear)
	if annotations < 1 {
		annotations = 1
	}
	v[21] = annotations
	v[22] = math.Log1p(annotations)
	v[23] = indicator(r.AnnotationsPerYear > e.cfg.HighActivity)

	// Zone.
	urban := strings.Contains(r.Zone, "URBANO")
	rural := strings.Contains(r.Zone, "RURAL")
	v[24] = indicator(urban)
	v[25] = indicator(rural)
	v[26] = indicator(!urban && !rural)

	// Predio subtype.
	v[27] = indicator(strings.Contains(r.Zone, "NPH"))
	v[28] = indicator(strings.Contains(r.Zone, "MATRIZ"))
	v[29] = indicator(strings.Contains(r.Zone, "MATRIZ NPH"))

	// Anomaly-flag passthroughs.
	v[30] = indicator(r.ExcessiveActivity)
	v[31] = indicator(r.GeoMismatch)
	v[32] = float64(r.FlagCount)
	if r.HasValue.Valid {
		v[33] = indicator(r.HasValue.Bool)
	} else {
		v[33] = 1
	}

	// Act-type code, numeric plus its hundreds group.
	if code, err := strconv.ParseFloat(strings.TrimSpace(r.ActCode), 64); err == nil {
		v[34] = code
		v[35] = math.Floor(code / 100)
	}

	// Party counts.
	if r.ReceiverCount.Valid {
		v[36] = float64(r.ReceiverCount.Int64)
	}
	if r.GrantorCount.Valid {
		v[37] = float64(r.GrantorCount.Int64)
	}
	if r.NewProperty.Valid {
		v[38] = indicator(r.NewProperty.Bool)
	}

	return v
}

// TransformBatch builds the feature matrix for a batch and runs the single
// final NaN sweep: any residual missing numeric feature becomes zero, with
// a per-column count so silent data loss stays observable.
func (e *Engineer) TransformBatch(ctx context.Context, records []domain.Record) ([][]float64, Report) {
	report := Report{Records: len(records), Width: Width}

	matrix := make([][]float64, len(records))
	for i := range records {
		matrix[i] = e.Transform(&records[i])
	}

	for i := range matrix {
		for j, val := range matrix[i] {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				matrix[i][j] = 0
				if report.SanitizedNaNs == nil {
					report.SanitizedNaNs = make(map[string]int)
				}
				report.SanitizedNaNs[featureNames[j]]++
				metrics.SanitizedFeatures.WithLabelValues(featureNames[j]).Inc()
			}
		}
	}

	if len(report.SanitizedNaNs) > 0 {
		e.logger.WarnContext(ctx, "sanitized residual NaN features",
			slog.Any("per_column", report.SanitizedNaNs),
		)
	}
	e.logger.InfoContext(ctx, "feature matrix built",
		slog.Int("records", report.Records),
		slog.Int("width", report.Width),
	)
	return matrix, report
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
