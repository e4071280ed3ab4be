// Package exporter writes the pipeline output datasets: the six record
// partitions and the anomaly score table, as UTF-8 CSV with a BOM prefix
// so the files open cleanly in Excel.
package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"propsafe/internal/metrics"
	"propsafe/pkg/contracts/domain"
)

// recordHeaders is the column layout of every partition file.
var recordHeaders = []string{
	"transaction_id", "matricula", "orip", "divipola", "departamento", "municipio",
	"year_radica", "cod_natujur", "nombre_natujur", "valor", "dinamica_inmobiliaria",
	"predios_nuevos", "tiene_valor", "count_a", "count_de", "tipo_predio_zona",
	"categoria_ruralidad", "estado_folio", "num_anotacion",
	"calidad_datos", "tipo_error", "es_mercado_valido", "valor_valido",
	"anotaciones_por_anio", "flag_actividad_excesiva", "flag_geo_discrepancia", "total_flags_anomalia",
}

// scoreHeaders is the column layout of the anomaly score file.
var scoreHeaders = []string{"transaction_id", "anomaly_score", "risk_class", "is_anomaly"}

// CSVWriter writes output datasets under one output directory.
type CSVWriter struct {
	outputDir string
	logger    *slog.Logger
}

// NewCSVWriter creates a writer rooted at outputDir.
func NewCSVWriter(outputDir string, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{outputDir: outputDir, logger: logger}
}

// StreamWriter appends rows to one open partition file.
type StreamWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
}

// newStreamWriter opens the file, writes the BOM and the header row.
func (w *CSVWriter) newStreamWriter(name string, headers []string) (*StreamWriter, error) {
	fullPath := filepath.Join(w.outputDir, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write BOM: %w", err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	return &StreamWriter{file: file, writer: writer}, nil
}

// Write appends one row.
func (s *StreamWriter) Write(row []string) error {
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write row %d: %w", s.rows+1, err)
	}
	s.rows++
	return nil
}

// Close flushes and closes the file.
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// PartitionSet holds one open stream writer per output partition and
// routes records by membership.
type PartitionSet struct {
	writers map[domain.Partition]*StreamWriter
	counts  map[domain.Partition]int
}

// OpenPartitions opens all six partition files.
func (w *CSVWriter) OpenPartitions() (*PartitionSet, error) {
	set := &PartitionSet{
		writers: make(map[domain.Partition]*StreamWriter, len(domain.AllPartitions)),
		counts:  make(map[domain.Partition]int, len(domain.AllPartitions)),
	}
	for _, p := range domain.AllPartitions {
		sw, err := w.newStreamWriter(fmt.Sprintf("registro_%s.csv", p), recordHeaders)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.writers[p] = sw
	}
	w.logger.Info("partition files opened",
		slog.String("output_dir", w.outputDir),
		slog.Int("partitions", len(set.writers)),
	)
	return set, nil
}

// Write routes one record to every partition it belongs to.
func (ps *PartitionSet) Write(r *domain.Record) error {
	row := recordRow(r)
	for _, p := range domain.AllPartitions {
		if !r.InPartition(p) {
			continue
		}
		if err := ps.writers[p].Write(row); err != nil {
			return fmt.Errorf("partition %s: %w", p, err)
		}
		ps.counts[p]++
		metrics.PartitionRecords.WithLabelValues(string(p)).Inc()
	}
	return nil
}

// Counts returns rows written per partition.
func (ps *PartitionSet) Counts() map[domain.Partition]int {
	out := make(map[domain.Partition]int, len(ps.counts))
	for p, n := range ps.counts {
		out[p] = n
	}
	return out
}

// Close closes every partition writer, returning the first error.
func (ps *PartitionSet) Close() error {
	var firstErr error
	for _, p := range domain.AllPartitions {
		sw, ok := ps.writers[p]
		if !ok {
			continue
		}
		if err := sw.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing partition %s: %w", p, err)
		}
	}
	return firstErr
}

// WriteTable writes an arbitrary header-plus-rows table, used for the
// aggregate statistics outputs.
func (w *CSVWriter) WriteTable(name string, headers []string, rows [][]string) error {
	sw, err := w.newStreamWriter(name, headers)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := sw.Write(row); err != nil {
			sw.Close()
			return err
		}
	}
	if err := sw.Close(); err != nil {
		return err
	}
	w.logger.Info("table written", slog.String("file", name), slog.Int("rows", len(rows)))
	return nil
}

// WriteScores writes the anomaly score table.
func (w *CSVWriter) WriteScores(name string, scores []domain.ScoredRecord) error {
	sw, err := w.newStreamWriter(name, scoreHeaders)
	if err != nil {
		return err
	}
	for i := range scores {
		s := &scores[i]
		row := []string{
			s.TransactionID,
			strconv.FormatFloat(s.AnomalyScore, 'f', 6, 64),
			string(s.RiskClass),
			strconv.FormatBool(s.IsAnomaly),
		}
		if err := sw.Write(row); err != nil {
			sw.Close()
			return err
		}
	}
	if err := sw.Close(); err != nil {
		return err
	}
	w.logger.Info("score file written",
		slog.String("file", name),
		slog.Int("rows", len(scores)),
	)
	return nil
}

func recordRow(r *domain.Record) []string {
	return []string{
		r.TransactionID,
		r.Matricula,
		formatInt(r.ORIP),
		r.Divipola,
		r.Departamento,
		r.Municipio,
		formatInt(r.Year),
		r.ActCode,
		r.ActName,
		formatFloat(r.Value),
		formatBool(r.MarketIndicator),
		formatBool(r.NewProperty),
		formatBool(r.HasValue),
		formatInt(r.ReceiverCount),
		formatInt(r.GrantorCount),
		r.Zone,
		r.RuralityCategory,
		r.FolioStatus,
		formatInt(r.AnnotationSeq),
		string(r.Quality),
		string(r.Reason),
		strconv.FormatBool(r.MarketRelevant),
		strconv.FormatBool(r.ValueValid),
		strconv.Itoa(r.AnnotationsPerYear),
		strconv.FormatBool(r.ExcessiveActivity),
		strconv.FormatBool(r.GeoMismatch),
		strconv.Itoa(r.FlagCount),
	}
}

func formatInt(v domain.NullInt) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func formatFloat(v domain.NullFloat) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func formatBool(v domain.NullBool) string {
	if !v.Valid {
		return ""
	}
	if v.Bool {
		return "1"
	}
	return "0"
}
