package domain

import (
	"fmt"
	"strconv"
)

// NullInt is an integer field that distinguishes missing from zero.
type NullInt struct {
	Int64 int64 `json:"value"`
	Valid bool  `json:"valid"`
}

// NullFloat is a float field that distinguishes missing from zero.
type NullFloat struct {
	Float64 float64 `json:"value"`
	Valid   bool    `json:"valid"`
}

// NullBool is a 0/1 indicator field that distinguishes missing from false.
type NullBool struct {
	Bool  bool `json:"value"`
	Valid bool `json:"valid"`
}

// Int returns a valid NullInt.
func Int(v int64) NullInt { return NullInt{Int64: v, Valid: true} }

// Float returns a valid NullFloat.
func Float(v float64) NullFloat { return NullFloat{Float64: v, Valid: true} }

// Bool returns a valid NullBool.
func Bool(v bool) NullBool { return NullBool{Bool: v, Valid: true} }

// Quality is the per-record data quality verdict.
type Quality string

const (
	QualityOK      Quality = "OK"
	QualityWarning Quality = "ADVERTENCIA"
	QualityError   Quality = "ERROR"
)

// Severity ranks verdicts so that rule evaluation can enforce
// most-severe-wins. OK never overrides a warning, a warning never
// overrides an error.
func (q Quality) Severity() int {
	switch q {
	case QualityError:
		return 2
	case QualityWarning:
		return 1
	default:
		return 0
	}
}

// Reason identifies which classification rule produced a non-OK verdict.
// The set is closed; downstream review tooling switches on these values.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonInvalidMarket  Reason = "DINAMICA_INVALIDA"
	ReasonInvalidYear    Reason = "YEAR_INVALIDO"
	ReasonInvalidGeo     Reason = "GEOGRAFIA_INVALIDA"
	ReasonMarketNoValue  Reason = "MERCADO_SIN_VALOR"
	ReasonExtremeValue   Reason = "VALOR_EXTREMO_DIGITACION"
	ReasonImplausiblyLow Reason = "VALOR_IRRISORIO"
	ReasonUnknownZone    Reason = "TIPO_PREDIO_INVALIDO"
)

// RiskClass is the three-level classification derived from the ensemble
// anomaly score.
type RiskClass string

const (
	RiskNormal     RiskClass = "normal"
	RiskSuspicious RiskClass = "suspicious"
	RiskHigh       RiskClass = "high-risk"
)

// RawRecord is one registry transaction exactly as read from a source file,
// before any type coercion. Every field is the source text; absent columns
// are empty strings.
type RawRecord struct {
	Matricula         string `json:"matricula"`
	ORIP              string `json:"orip"`
	Divipola          string `json:"divipola"`
	Departamento      string `json:"departamento"`
	Municipio         string `json:"municipio"`
	Year              string `json:"year_radica"`
	ActCode           string `json:"cod_natujur"`
	ActName           string `json:"nombre_natujur"`
	Value             string `json:"valor"`
	MarketIndicator   string `json:"dinamica_inmobiliaria"`
	NewProperty       string `json:"predios_nuevos"`
	HasValue          string `json:"tiene_valor"`
	HasMultipleValues string `json:"tiene_mas_de_un_valor"`
	ReceiverCount     string `json:"count_a"`
	GrantorCount      string `json:"count_de"`
	Zone              string `json:"tipo_predio_zona"`
	RuralityCategory  string `json:"categoria_ruralidad"`
	FolioStatus       string `json:"estado_folio"`
	AnnotationSeq     string `json:"num_anotacion"`
}

// Record is a typed registry transaction flowing through the pipeline.
// It is created by the normalizer and enriched in place by the later
// stages; verdict fields are written only by the quality classifier and
// anomaly flags only by the business-pattern detector.
type Record struct {
	TransactionID string `json:"transaction_id"`

	Matricula         string    `json:"matricula"`
	ORIP              NullInt   `json:"orip"`
	Divipola          string    `json:"divipola"`
	Departamento      string    `json:"departamento"`
	Municipio         string    `json:"municipio"`
	Year              NullInt   `json:"year_radica"`
	ActCode           string    `json:"cod_natujur"`
	ActName           string    `json:"nombre_natujur"`
	Value             NullFloat `json:"valor"`
	MarketIndicator   NullBool  `json:"dinamica_inmobiliaria"`
	NewProperty       NullBool  `json:"predios_nuevos"`
	HasValue          NullBool  `json:"tiene_valor"`
	HasMultipleValues NullBool  `json:"tiene_mas_de_un_valor"`
	ReceiverCount     NullInt   `json:"count_a"`
	GrantorCount      NullInt   `json:"count_de"`
	Zone              string    `json:"tipo_predio_zona"`
	RuralityCategory  string    `json:"categoria_ruralidad"`
	FolioStatus       string    `json:"estado_folio"`
	AnnotationSeq     NullInt   `json:"num_anotacion"`

	// Quality classification output.
	Quality        Quality `json:"calidad_datos"`
	Reason         Reason  `json:"tipo_error,omitempty"`
	MarketRelevant bool    `json:"es_mercado_valido"`
	ValueValid     bool    `json:"valor_valido"`

	// Business-pattern anomaly flags. Batch-level aggregates, immutable
	// once attached.
	ExcessiveActivity  bool `json:"flag_actividad_excesiva"`
	GeoMismatch        bool `json:"flag_geo_discrepancia"`
	FlagCount          int  `json:"total_flags_anomalia"`
	AnnotationsPerYear int  `json:"anotaciones_por_anio"`
}

// CompositeKey derives the stable unique transaction identifier from the
// typed identifying fields. Field order matches the registry convention:
// region code, property id, annotation sequence, act-type code, year.
// Missing parts get placeholder tokens so that the key shape is stable.
func (r *Record) CompositeKey() string {
	divipola := r.Divipola
	if divipola == "" {
		divipola = "UNK"
	}
	matricula := r.Matricula
	if matricula == "" {
		matricula = "UNK"
	}
	seq := "0"
	if r.AnnotationSeq.Valid {
		seq = strconv.FormatInt(r.AnnotationSeq.Int64, 10)
	}
	act := r.ActCode
	if act == "" {
		act = "UNK"
	}
	year := "0"
	if r.Year.Valid {
		year = strconv.FormatInt(r.Year.Int64, 10)
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s", divipola, matricula, seq, act, year)
}

// Partition names one of the pipeline output datasets.
type Partition string

const (
	PartitionComplete   Partition = "completo"
	PartitionClean      Partition = "limpio"
	PartitionMarket     Partition = "mercado"
	PartitionModelReady Partition = "ml_training"
	PartitionError      Partition = "errores"
	PartitionWarning    Partition = "advertencias"
)

// AllPartitions lists the output partitions in their reporting order.
var AllPartitions = []Partition{
	PartitionComplete,
	PartitionClean,
	PartitionMarket,
	PartitionModelReady,
	PartitionError,
	PartitionWarning,
}

// InPartition reports whether the record belongs to the given output
// partition. Membership is a pure function of the final verdict and flags,
// so it must only be consulted after classification has run.
func (r *Record) InPartition(p Partition) bool {
	switch p {
	case PartitionComplete:
		return true
	case PartitionClean:
		return r.Quality == QualityOK
	case PartitionMarket:
		return r.MarketRelevant && r.Quality != QualityError
	case PartitionModelReady:
		return r.MarketRelevant && r.ValueValid && r.Quality == QualityOK
	case PartitionError:
		return r.Quality == QualityError
	case PartitionWarning:
		return r.Quality == QualityWarning
	default:
		return false
	}
}

// ScoredRecord is the per-record ensemble scorer output, keyed by the
// record's composite transaction id so any consumer can join on it.
type ScoredRecord struct {
	TransactionID string    `json:"transaction_id"`
	AnomalyScore  float64   `json:"anomaly_score"`
	RiskClass     RiskClass `json:"risk_class"`
	IsAnomaly     bool      `json:"is_anomaly"`
}
