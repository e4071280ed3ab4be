// Package pipeline orchestrates one batch run end to end: ingest,
// normalize, key, classify, detect, feature engineering, ensemble scoring
// and export. Every stage is recorded in the run manifest with its own
// report; a stage failure aborts the run with the manifest showing where.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"propsafe/internal/anomaly"
	"propsafe/internal/classify"
	"propsafe/internal/config"
	"propsafe/internal/detect"
	"propsafe/internal/exporter"
	"propsafe/internal/features"
	"propsafe/internal/infrastructure"
	"propsafe/internal/ingest"
	"propsafe/internal/keying"
	"propsafe/internal/normalize"
	"propsafe/internal/stats"
	"propsafe/pkg/contracts/domain"
)

const (
	manifestFile  = "manifiesto_corrida.json"
	etlReportFile = "reporte_etl.csv"
)

// ErrNoRecords aborts a run whose input produced zero records.
var ErrNoRecords = errors.New("input produced no records")

// Pipeline wires the processing stages for one batch run.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer

	loader     *ingest.Loader
	normalizer *normalize.Normalizer
	keyer      *keying.Keyer
	classifier *classify.Classifier
	detector   *detect.Detector
	engineer   *features.Engineer
	aggregator *stats.Aggregator
	writer     *exporter.CSVWriter
}

// New builds a pipeline from configuration. The ensemble scorer is not
// held here; it is single-use per batch and created inside Run.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("propsafe/pipeline"),
		loader:     ingest.NewLoader(cfg.Pipeline.ChunkSize, logger),
		normalizer: normalize.NewNormalizer(logger),
		keyer:      keying.NewKeyer(logger),
		classifier: classify.NewClassifier(cfg.Pipeline, logger),
		detector:   detect.NewDetector(cfg.Pipeline, logger),
		engineer:   features.NewEngineer(cfg.Features, logger),
		aggregator: stats.NewAggregator(logger),
		writer:     exporter.NewCSVWriter(cfg.Paths.OutputDir, logger),
	}
}

// Run executes one batch over the configured input file. The returned
// manifest is complete even on failure; the error says which stage broke.
func (p *Pipeline) Run(ctx context.Context) (*Manifest, error) {
	manifest := &Manifest{
		RunID:     uuid.NewString(),
		InputFile: p.cfg.Paths.InputFile,
		StartedAt: time.Now(),
	}
	ctx = infrastructure.WithTraceID(ctx, manifest.RunID)

	p.logger.InfoContext(ctx, "batch run started",
		slog.String("run_id", manifest.RunID),
		slog.String("input_file", manifest.InputFile),
	)

	var records []domain.Record

	err := p.runStage(ctx, manifest, "ingest_normalize", func(ctx context.Context) (any, error) {
		var err error
		var report normalize.Report
		records, report, err = p.ingestAndNormalize(ctx)
		manifest.Summary.InputRows = report.Records
		manifest.Summary.NormalizedRecords = len(records)
		if err == nil && len(records) == 0 {
			err = ErrNoRecords
		}
		return report, err
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	err = p.runStage(ctx, manifest, "composite_keys", func(ctx context.Context) (any, error) {
		var report keying.Report
		records, report = p.keyer.KeyBatch(ctx, records)
		manifest.Summary.DuplicateKeys = len(report.DuplicateKeys)
		return report, nil
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	err = p.runStage(ctx, manifest, "quality_classification", func(ctx context.Context) (any, error) {
		var report classify.Report
		records, report = p.classifier.ClassifyBatch(ctx, records)
		manifest.Summary.OKRecords = report.OK
		manifest.Summary.WarningRecords = report.Warnings
		manifest.Summary.ErrorRecords = report.Errors
		return report, nil
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	err = p.runStage(ctx, manifest, "pattern_detection", func(ctx context.Context) (any, error) {
		var report detect.Report
		records, report = p.detector.DetectBatch(ctx, records)
		return report, nil
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	var (
		scored     []domain.ScoredRecord
		modelReady []domain.Record
	)
	err = p.runStage(ctx, manifest, "anomaly_scoring", func(ctx context.Context) (any, error) {
		var report anomaly.ScoreReport
		var err error
		scored, modelReady, report, err = p.scoreModelReady(ctx, records)
		manifest.Summary.ScoredRecords = report.Records
		manifest.Summary.Anomalies = report.Anomalies
		manifest.Summary.HighRisk = report.ByRisk[domain.RiskHigh]
		manifest.Summary.Suspicious = report.ByRisk[domain.RiskSuspicious]
		return report, err
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	err = p.runStage(ctx, manifest, "export", func(ctx context.Context) (any, error) {
		counts, err := p.export(records, scored)
		if err != nil {
			return nil, err
		}
		manifest.Partitions = counts
		manifest.Summary.ModelReadyRecords = counts[string(domain.PartitionModelReady)]
		return counts, nil
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	// The full record table is no longer needed: statistics run over the
	// retained model-ready subset only.
	records = nil

	err = p.runStage(ctx, manifest, "statistics", func(ctx context.Context) (any, error) {
		aggregates := p.aggregator.Aggregate(ctx, modelReady)
		rows := make([][]string, len(aggregates))
		for i := range aggregates {
			rows[i] = aggregates[i].Row()
		}
		if err := p.writer.WriteTable("estadisticas_valor.csv", stats.Headers(), rows); err != nil {
			return nil, err
		}
		return map[string]int{"groups": len(aggregates)}, nil
	})
	if err != nil {
		return p.finish(ctx, manifest, err)
	}

	return p.finish(ctx, manifest, nil)
}

// runStage runs one stage with timing, tracing and manifest bookkeeping.
func (p *Pipeline) runStage(ctx context.Context, manifest *Manifest, name string, fn func(context.Context) (any, error)) error {
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()

	state := newStageState(name)
	manifest.Stages = append(manifest.Stages, state)
	state.Start()

	p.logger.InfoContext(ctx, "stage started", slog.String("stage", name))
	detail, err := fn(ctx)
	if err != nil {
		state.Fail(err)
		span.RecordError(err)
		p.logger.ErrorContext(ctx, "stage failed",
			slog.String("stage", name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("stage %s: %w", name, err)
	}

	state.Complete(detail)
	p.logger.InfoContext(ctx, "stage completed",
		slog.String("stage", name),
		slog.String("duration", state.Duration),
	)
	return nil
}

// ingestAndNormalize streams the input file chunk by chunk, normalizing
// chunks concurrently up to the configured worker count. Chunk order is
// preserved so composite-key reports stay deterministic.
func (p *Pipeline) ingestAndNormalize(ctx context.Context) ([]domain.Record, normalize.Report, error) {
	var (
		mu      sync.Mutex
		chunks  [][]domain.Record
		reports []normalize.Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Workers)

	index := 0
	err := p.loader.LoadChunks(gctx, p.cfg.Paths.InputFile, func(raws []domain.RawRecord) error {
		slot := index
		index++
		mu.Lock()
		chunks = append(chunks, nil)
		reports = append(reports, normalize.Report{})
		mu.Unlock()

		g.Go(func() error {
			recs, report := p.normalizer.NormalizeBatch(gctx, raws)
			mu.Lock()
			chunks[slot] = recs
			reports[slot] = report
			mu.Unlock()
			return nil
		})
		return gctx.Err()
	})
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return nil, normalize.Report{}, err
	}

	merged := normalize.Report{FieldFailures: make(map[string]int)}
	total := 0
	for i := range chunks {
		total += len(chunks[i])
	}
	records := make([]domain.Record, 0, total)
	for i := range chunks {
		records = append(records, chunks[i]...)
		r := &reports[i]
		merged.Records += r.Records
		merged.MissingValues += r.MissingValues
		merged.MissingYears += r.MissingYears
		merged.OutOfRangeORIPs += r.OutOfRangeORIPs
		for field, n := range r.FieldFailures {
			merged.FieldFailures[field] += n
		}
	}
	return records, merged, nil
}

// scoreModelReady fits and scores the ensemble over the model-ready subset
// of the batch, returning the subset so later stages can work without the
// full record table. An empty subset skips scoring rather than failing the
// run; a batch can legitimately contain no scoreable transactions.
func (p *Pipeline) scoreModelReady(ctx context.Context, records []domain.Record) ([]domain.ScoredRecord, []domain.Record, anomaly.ScoreReport, error) {
	modelReady := make([]domain.Record, 0, len(records))
	for i := range records {
		if records[i].InPartition(domain.PartitionModelReady) {
			modelReady = append(modelReady, records[i])
		}
	}
	if len(modelReady) == 0 {
		p.logger.WarnContext(ctx, "no model-ready records in batch, skipping anomaly scoring")
		return nil, nil, anomaly.ScoreReport{}, nil
	}

	matrix, featReport := p.engineer.TransformBatch(ctx, modelReady)
	p.logger.InfoContext(ctx, "scoring model-ready subset",
		slog.Int("records", featReport.Records),
		slog.Int("feature_width", featReport.Width),
	)

	scorer := anomaly.NewEnsembleScorer(p.cfg.Scorer, p.logger)
	if err := scorer.Fit(ctx, matrix); err != nil {
		return nil, nil, anomaly.ScoreReport{}, fmt.Errorf("fitting ensemble: %w", err)
	}
	scored, report, err := scorer.Score(ctx, matrix, modelReady)
	if err != nil {
		return nil, nil, anomaly.ScoreReport{}, fmt.Errorf("scoring batch: %w", err)
	}
	return scored, modelReady, report, nil
}

// export streams every record into its partitions and writes the score
// table.
func (p *Pipeline) export(records []domain.Record, scored []domain.ScoredRecord) (map[string]int, error) {
	set, err := p.writer.OpenPartitions()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := set.Write(&records[i]); err != nil {
			set.Close()
			return nil, err
		}
	}
	if err := set.Close(); err != nil {
		return nil, err
	}

	if len(scored) > 0 {
		if err := p.writer.WriteScores("puntajes_anomalia.csv", scored); err != nil {
			return nil, err
		}
	}

	counts := make(map[string]int)
	for partition, n := range set.Counts() {
		counts[string(partition)] = n
	}
	return counts, nil
}

// finish stamps the manifest, writes it next to the outputs and logs the
// run outcome.
func (p *Pipeline) finish(ctx context.Context, manifest *Manifest, runErr error) (*Manifest, error) {
	manifest.CompletedAt = time.Now()
	manifest.Duration = manifest.CompletedAt.Sub(manifest.StartedAt).String()

	if err := p.writeManifest(manifest); err != nil {
		p.logger.ErrorContext(ctx, "failed to write run manifest", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	if err := p.writeETLReport(manifest); err != nil {
		p.logger.ErrorContext(ctx, "failed to write etl report", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		p.logger.ErrorContext(ctx, "batch run failed",
			slog.String("run_id", manifest.RunID),
			slog.String("duration", manifest.Duration),
			slog.String("error", runErr.Error()),
		)
		return manifest, runErr
	}

	p.logger.InfoContext(ctx, "batch run completed",
		slog.String("run_id", manifest.RunID),
		slog.String("duration", manifest.Duration),
		slog.Int("input_rows", manifest.Summary.InputRows),
		slog.Int("ok_records", manifest.Summary.OKRecords),
		slog.Int("error_records", manifest.Summary.ErrorRecords),
		slog.Int("anomalies", manifest.Summary.Anomalies),
	)
	return manifest, nil
}

// writeETLReport persists the batch counters as a flat metric/value table,
// the review-friendly companion to the JSON manifest.
func (p *Pipeline) writeETLReport(manifest *Manifest) error {
	s := manifest.Summary
	rows := [][]string{
		{"run_id", manifest.RunID},
		{"input_rows", strconv.Itoa(s.InputRows)},
		{"normalized_records", strconv.Itoa(s.NormalizedRecords)},
		{"ok_records", strconv.Itoa(s.OKRecords)},
		{"warning_records", strconv.Itoa(s.WarningRecords)},
		{"error_records", strconv.Itoa(s.ErrorRecords)},
		{"duplicate_keys", strconv.Itoa(s.DuplicateKeys)},
		{"model_ready_records", strconv.Itoa(s.ModelReadyRecords)},
		{"scored_records", strconv.Itoa(s.ScoredRecords)},
		{"anomalies", strconv.Itoa(s.Anomalies)},
		{"high_risk", strconv.Itoa(s.HighRisk)},
		{"suspicious", strconv.Itoa(s.Suspicious)},
	}
	return p.writer.WriteTable(etlReportFile, []string{"metric", "value"}, rows)
}

func (p *Pipeline) writeManifest(manifest *Manifest) error {
	if err := os.MkdirAll(p.cfg.Paths.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(p.cfg.Paths.OutputDir, manifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
