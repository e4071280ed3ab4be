package exporter

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propsafe/pkg/contracts/domain"
)

func testWriter(t *testing.T) (*CSVWriter, string) {
	t.Helper()
	dir := t.TempDir()
	return NewCSVWriter(dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := strings.TrimPrefix(string(data), "\xef\xbb\xbf")
	rows, err := csv.NewReader(strings.NewReader(content)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestPartitionRouting(t *testing.T) {
	w, dir := testWriter(t)

	set, err := w.OpenPartitions()
	require.NoError(t, err)

	clean := domain.Record{TransactionID: "tx-clean", Quality: domain.QualityOK}
	market := domain.Record{TransactionID: "tx-market", Quality: domain.QualityOK, MarketRelevant: true, ValueValid: true}
	errored := domain.Record{TransactionID: "tx-error", Quality: domain.QualityError, Reason: domain.ReasonInvalidYear}
	warned := domain.Record{TransactionID: "tx-warn", Quality: domain.QualityWarning, Reason: domain.ReasonUnknownZone}

	for _, r := range []domain.Record{clean, market, errored, warned} {
		require.NoError(t, set.Write(&r))
	}
	require.NoError(t, set.Close())

	counts := set.Counts()
	assert.Equal(t, 4, counts[domain.PartitionComplete])
	assert.Equal(t, 2, counts[domain.PartitionClean])
	assert.Equal(t, 1, counts[domain.PartitionMarket])
	assert.Equal(t, 1, counts[domain.PartitionModelReady])
	assert.Equal(t, 1, counts[domain.PartitionError])
	assert.Equal(t, 1, counts[domain.PartitionWarning])

	rows := readCSV(t, filepath.Join(dir, "registro_errores.csv"))
	require.Len(t, rows, 2, "header plus one error record")
	assert.Equal(t, recordHeaders, rows[0])
	assert.Equal(t, "tx-error", rows[1][0])
	assert.Equal(t, string(domain.ReasonInvalidYear), rows[1][20])
}

func TestPartitionFilesHaveBOM(t *testing.T) {
	w, dir := testWriter(t)
	set, err := w.OpenPartitions()
	require.NoError(t, err)
	require.NoError(t, set.Close())

	data, err := os.ReadFile(filepath.Join(dir, "registro_completo.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\xef\xbb\xbf"))
}

func TestWriteScores(t *testing.T) {
	w, dir := testWriter(t)
	scores := []domain.ScoredRecord{
		{TransactionID: "tx-1", AnomalyScore: 0.912345, RiskClass: domain.RiskHigh, IsAnomaly: true},
		{TransactionID: "tx-2", AnomalyScore: 0.1, RiskClass: domain.RiskNormal},
	}
	require.NoError(t, w.WriteScores("puntajes.csv", scores))

	rows := readCSV(t, filepath.Join(dir, "puntajes.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, scoreHeaders, rows[0])
	assert.Equal(t, []string{"tx-1", "0.912345", "high-risk", "true"}, rows[1])
	assert.Equal(t, []string{"tx-2", "0.100000", "normal", "false"}, rows[2])
}

func TestWriteTable(t *testing.T) {
	w, dir := testWriter(t)
	require.NoError(t, w.WriteTable("tabla.csv",
		[]string{"a", "b"},
		[][]string{{"1", "2"}, {"3", "4"}},
	))

	rows := readCSV(t, filepath.Join(dir, "tabla.csv"))
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}, rows)
}

func TestRecordRowMissingFieldsRenderEmpty(t *testing.T) {
	row := recordRow(&domain.Record{TransactionID: "tx"})
	require.Len(t, row, len(recordHeaders))
	assert.Empty(t, row[2], "missing orip")
	assert.Empty(t, row[6], "missing year")
	assert.Empty(t, row[9], "missing value")
}
