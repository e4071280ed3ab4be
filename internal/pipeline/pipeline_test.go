package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propsafe/internal/config"
	"propsafe/pkg/contracts/domain"
)

// buildExtract writes a synthetic registry extract: 100 clean market
// transactions, 50 market acts without value, 20 digit-entry extremes and
// 830 clean non-market acts.
func buildExtract(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("MATRICULA,ORIP,DIVIPOLA,DEPARTAMENTO,MUNICIPIO,YEAR_RADICA,CODNATUJUR,NOMNATUJUR,VALOR_ACTO,DINAMICA_INMOBILIARIA,TIPO_PREDIO_ZONA,ESTADO_FOLIO,NUMANOTACION\n")

	row := func(i int, value, market string) {
		fmt.Fprintf(&b, "001-%05d,5,05001,ANTIOQUIA,MEDELLIN,2020,125,COMPRAVENTA,%s,%s,URBANO,ACTIVO,1\n",
			i, value, market)
	}

	n := 0
	for i := 0; i < 100; i++ {
		// Spread of plausible sale prices.
		row(n, fmt.Sprintf("%d", 50_000_000+i*3_000_000), "1")
		n++
	}
	for i := 0; i < 50; i++ {
		row(n, "0", "1")
		n++
	}
	for i := 0; i < 20; i++ {
		row(n, "15000000000", "1")
		n++
	}
	for i := 0; i < 830; i++ {
		row(n, "", "0")
		n++
	}

	path := filepath.Join(dir, "extracto.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testPipeline(t *testing.T, inputFile, outputDir string) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.InputFile = inputFile
	cfg.Paths.OutputDir = outputDir
	// Small chunks so the concurrent normalization path is exercised.
	cfg.Pipeline.ChunkSize = 128
	cfg.Pipeline.Workers = 4
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := buildExtract(t, dir)
	outDir := filepath.Join(dir, "out")

	manifest, err := testPipeline(t, input, outDir).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.NotEmpty(t, manifest.RunID)

	require.Len(t, manifest.Stages, 7)
	for _, stage := range manifest.Stages {
		assert.Equal(t, StatusCompleted, stage.Status, "stage %s", stage.Name)
	}

	s := manifest.Summary
	assert.Equal(t, 1000, s.InputRows)
	assert.Equal(t, 1000, s.NormalizedRecords)
	assert.Equal(t, 930, s.OKRecords)
	assert.Equal(t, 0, s.WarningRecords)
	assert.Equal(t, 70, s.ErrorRecords)
	assert.Equal(t, 0, s.DuplicateKeys)
	assert.Equal(t, 100, s.ModelReadyRecords)
	assert.Equal(t, 100, s.ScoredRecords)

	assert.Equal(t, 1000, manifest.Partitions[string(domain.PartitionComplete)])
	assert.Equal(t, 930, manifest.Partitions[string(domain.PartitionClean)])
	assert.Equal(t, 100, manifest.Partitions[string(domain.PartitionMarket)])
	assert.Equal(t, 100, manifest.Partitions[string(domain.PartitionModelReady)])
	assert.Equal(t, 70, manifest.Partitions[string(domain.PartitionError)])
	assert.Equal(t, 0, manifest.Partitions[string(domain.PartitionWarning)])

	for _, name := range []string{
		"registro_completo.csv",
		"registro_limpio.csv",
		"registro_mercado.csv",
		"registro_ml_training.csv",
		"registro_errores.csv",
		"registro_advertencias.csv",
		"puntajes_anomalia.csv",
		"estadisticas_valor.csv",
		etlReportFile,
		manifestFile,
	} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, "expected output %s", name)
	}
}

func TestRunManifestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	input := buildExtract(t, dir)
	outDir := filepath.Join(dir, "out")

	manifest, err := testPipeline(t, input, outDir).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, manifestFile))
	require.NoError(t, err)

	var loaded Manifest
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, manifest.RunID, loaded.RunID)
	assert.Equal(t, manifest.Summary, loaded.Summary)
	assert.Len(t, loaded.Stages, len(manifest.Stages))
}

func TestRunFailsOnMissingInput(t *testing.T) {
	dir := t.TempDir()
	manifest, err := testPipeline(t, filepath.Join(dir, "nope.csv"), filepath.Join(dir, "out")).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, manifest)

	require.NotEmpty(t, manifest.Stages)
	assert.Equal(t, StatusFailed, manifest.Stages[0].Status)
	assert.NotEmpty(t, manifest.Stages[0].Error)
}

func TestRunFailsOnEmptyExtract(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(input, []byte("MATRICULA,YEAR_RADICA,CODNATUJUR\n"), 0o644))

	_, err := testPipeline(t, input, filepath.Join(dir, "out")).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestRunFailsOnMissingColumns(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(input, []byte("MATRICULA,VALOR_ACTO\n001-1,100\n"), 0o644))

	_, err := testPipeline(t, input, filepath.Join(dir, "out")).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns")
}

func TestRunSurfacesDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("MATRICULA,ORIP,DIVIPOLA,DEPARTAMENTO,MUNICIPIO,YEAR_RADICA,CODNATUJUR,NOMNATUJUR,VALOR_ACTO,DINAMICA_INMOBILIARIA,TIPO_PREDIO_ZONA,ESTADO_FOLIO,NUMANOTACION\n")
	// Two rows with identical identifying fields.
	for i := 0; i < 2; i++ {
		b.WriteString("001-1,5,05001,ANTIOQUIA,MEDELLIN,2020,125,COMPRAVENTA,150000000,1,URBANO,ACTIVO,1\n")
	}
	input := filepath.Join(dir, "dup.csv")
	require.NoError(t, os.WriteFile(input, []byte(b.String()), 0o644))

	manifest, err := testPipeline(t, input, filepath.Join(dir, "out")).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Summary.DuplicateKeys)
	// Duplicates flow through: both records stay in the batch.
	assert.Equal(t, 2, manifest.Partitions[string(domain.PartitionComplete)])
}
