package normalize

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"propsafe/internal/metrics"
	"propsafe/pkg/contracts/domain"
)

// Office codes are issued in this range; anything outside is corrupt data
// and becomes missing rather than clamped.
const (
	officeCodeMin = 1
	officeCodeMax = 999
)

// missingSentinel is the literal token some registry exports use for an
// absent categorical value.
const missingSentinel = "NONE"

// Normalizer converts raw string-typed records into canonical typed
// records.
type Normalizer struct {
	logger *slog.Logger
}

// Report summarizes one normalization pass for the run manifest.
type Report struct {
	Records         int            `json:"records"`
	FieldFailures   map[string]int `json:"field_failures"`
	MissingValues   int            `json:"missing_values"`
	MissingYears    int            `json:"missing_years"`
	OutOfRangeORIPs int            `json:"out_of_range_orips"`
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// NormalizeBatch normalizes every record in the batch. Individual field
// failures are recovered locally; the batch itself cannot fail here.
func (n *Normalizer) NormalizeBatch(ctx context.Context, raws []domain.RawRecord) ([]domain.Record, Report) {
	report := Report{
		Records:       len(raws),
		FieldFailures: make(map[string]int),
	}

	records := make([]domain.Record, len(raws))
	for i := range raws {
		records[i] = n.normalize(&raws[i], &report)
	}

	if !report.Valid() {
		n.logger.WarnContext(ctx, "normalization recovered field failures",
			slog.Int("records", report.Records),
			slog.Any("field_failures", report.FieldFailures),
			slog.Int("missing_values", report.MissingValues),
			slog.Int("out_of_range_orips", report.OutOfRangeORIPs),
		)
	}
	return records, report
}

// Valid reports whether the pass completed without any recovered failure.
func (r *Report) Valid() bool {
	return len(r.FieldFailures) == 0 && r.OutOfRangeORIPs == 0
}

func (r *Report) fail(field string) {
	r.FieldFailures[field]++
	metrics.FieldCoercionFailures.WithLabelValues(field).Inc()
}

func (n *Normalizer) normalize(raw *domain.RawRecord, report *Report) domain.Record {
	rec := domain.Record{
		Matricula:        cleanCategory(raw.Matricula),
		Divipola:         strings.TrimSpace(raw.Divipola),
		Departamento:     cleanCategory(raw.Departamento),
		Municipio:        cleanCategory(raw.Municipio),
		ActCode:          strings.TrimSpace(raw.ActCode),
		ActName:          cleanCategory(raw.ActName),
		Zone:             cleanCategory(raw.Zone),
		RuralityCategory: cleanCategory(raw.RuralityCategory),
		FolioStatus:      cleanCategory(raw.FolioStatus),
		Quality:          domain.QualityOK,
	}

	rec.Year = parseInt(raw.Year, "year_radica", report)
	if !rec.Year.Valid {
		report.MissingYears++
	}

	rec.Value = parseFloat(raw.Value, "valor", report)
	if !rec.Value.Valid {
		report.MissingValues++
	}

	rec.MarketIndicator = parseBinary(raw.MarketIndicator, "dinamica_inmobiliaria", report)
	rec.NewProperty = parseBinary(raw.NewProperty, "predios_nuevos", report)
	rec.HasValue = parseBinary(raw.HasValue, "tiene_valor", report)
	rec.HasMultipleValues = parseBinary(raw.HasMultipleValues, "tiene_mas_de_un_valor", report)

	rec.ReceiverCount = parseInt(raw.ReceiverCount, "count_a", report)
	rec.GrantorCount = parseInt(raw.GrantorCount, "count_de", report)
	rec.AnnotationSeq = parseInt(raw.AnnotationSeq, "num_anotacion", report)

	// ORIP is bounded; out-of-range codes are corrupt and become missing.
	rec.ORIP = parseInt(raw.ORIP, "orip", report)
	if rec.ORIP.Valid && (rec.ORIP.Int64 < officeCodeMin || rec.ORIP.Int64 > officeCodeMax) {
		rec.ORIP = domain.NullInt{}
		report.OutOfRangeORIPs++
		metrics.FieldCoercionFailures.WithLabelValues("orip").Inc()
	}

	return rec
}

// parseInt coerces an integer field, stripping thousands separators.
// Empty input is missing without being a failure; non-empty unparseable
// input is missing and counted.
func parseInt(s, field string, report *Report) domain.NullInt {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || strings.EqualFold(s, missingSentinel) {
		return domain.NullInt{}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some exports write integers as "2021.0".
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == float64(int64(f)) {
			return domain.Int(int64(f))
		}
		report.fail(field)
		return domain.NullInt{}
	}
	return domain.Int(v)
}

// parseFloat coerces a monetary field, stripping thousands separators.
func parseFloat(s, field string, report *Report) domain.NullFloat {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || strings.EqualFold(s, missingSentinel) {
		return domain.NullFloat{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		report.fail(field)
		return domain.NullFloat{}
	}
	return domain.Float(v)
}

// parseBinary coerces a 0/1 indicator. Accepted forms are the textual
// "0"/"1" and native booleans; anything else is missing.
func parseBinary(s, field string, report *Report) domain.NullBool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return domain.Bool(true)
	case "0", "false":
		return domain.Bool(false)
	case "", strings.ToLower(missingSentinel):
		return domain.NullBool{}
	default:
		report.fail(field)
		return domain.NullBool{}
	}
}

// cleanCategory upper-cases and trims a categorical field, mapping the
// missing sentinel to the empty string.
func cleanCategory(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == missingSentinel {
		return ""
	}
	return s
}
