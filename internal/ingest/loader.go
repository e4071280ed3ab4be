package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"propsafe/pkg/contracts/domain"
)

// columnAliases maps each raw-record field to the header spellings seen
// across registry extracts. Matching is case-insensitive on the trimmed
// header text.
var columnAliases = map[string][]string{
	"matricula":    {"MATRICULA", "NRO_MATRICULA", "MATRICULA_INMOBILIARIA"},
	"orip":         {"ORIP", "CIRCULO", "CIRCULO_REGISTRAL", "COD_ORIP"},
	"divipola":     {"DIVIPOLA", "COD_DIVIPOLA", "CODIGO_DANE"},
	"departamento": {"DEPARTAMENTO", "DEPTO", "NOMBRE_DEPARTAMENTO"},
	"municipio":    {"MUNICIPIO", "NOMBRE_MUNICIPIO"},
	"year":         {"YEAR_RADICA", "ANIO_RADICACION", "ANO_RADICA", "YEAR"},
	"act_code":     {"CODNATUJUR", "COD_NATUJUR", "CODIGO_NATURALEZA"},
	"act_name":     {"NOMNATUJUR", "NOMBRE_NATUJUR", "NATURALEZA_JURIDICA"},
	"value":        {"VALOR_ACTO", "VALOR", "VALORACTO"},
	"market":       {"DINAMICA_INMOBILIARIA", "DINAMICA"},
	"new_property": {"PREDIOS_NUEVOS", "PREDIO_NUEVO"},
	"has_value":    {"TIENE_VALOR"},
	"multi_value":  {"TIENE_MAS_DE_UN_VALOR", "MAS_DE_UN_VALOR"},
	"receivers":    {"COUNT_A", "CANTIDAD_A"},
	"grantors":     {"COUNT_DE", "CANTIDAD_DE"},
	"zone":         {"TIPO_PREDIO_ZONA", "ZONA", "TIPO_PREDIO"},
	"rurality":     {"CATEGORIA_RURALIDAD", "RURALIDAD"},
	"folio_status": {"ESTADO_FOLIO", "ESTADO"},
	"annotation":   {"NUMANOTACION", "NUM_ANOTACION", "NRO_ANOTACION"},
}

// requiredColumns must resolve in every source file; a file missing any of
// them is unusable and loading fails outright.
var requiredColumns = []string{"matricula", "year", "act_code"}

// Loader reads registry extracts from disk.
type Loader struct {
	chunkSize int
	logger    *slog.Logger
}

// NewLoader creates a loader that delivers records in chunks of at most
// chunkSize rows.
func NewLoader(chunkSize int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Loader{chunkSize: chunkSize, logger: logger}
}

// Load reads the whole file into memory, dispatching on extension. Use
// LoadChunks for large CSV extracts.
func (l *Loader) Load(ctx context.Context, path string) ([]domain.RawRecord, error) {
	var all []domain.RawRecord
	err := l.LoadChunks(ctx, path, func(chunk []domain.RawRecord) error {
		all = append(all, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// LoadChunks streams the file through fn chunk by chunk. A non-nil error
// from fn aborts the load.
func (l *Loader) LoadChunks(ctx context.Context, path string, fn func([]domain.RawRecord) error) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return l.loadCSV(ctx, path, fn)
	case ".xlsx", ".xlsm":
		return l.loadExcel(ctx, path, fn)
	default:
		return fmt.Errorf("unsupported input format: %s", filepath.Ext(path))
	}
}

func (l *Loader) loadCSV(ctx context.Context, path string, fn func([]domain.RawRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")
	}
	columns, err := mapColumns(headers)
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "loading csv extract",
		slog.String("path", path),
		slog.Int("columns_mapped", len(columns)),
		slog.Int("chunk_size", l.chunkSize),
	)

	chunk := make([]domain.RawRecord, 0, l.chunkSize)
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", rows+2, err)
		}
		rows++
		chunk = append(chunk, buildRaw(row, columns))
		if len(chunk) == l.chunkSize {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = make([]domain.RawRecord, 0, l.chunkSize)
		}
	}
	if len(chunk) > 0 {
		if err := fn(chunk); err != nil {
			return err
		}
	}

	l.logger.InfoContext(ctx, "csv extract loaded", slog.Int("rows", rows))
	return nil
}

func (l *Loader) loadExcel(ctx context.Context, path string, fn func([]domain.RawRecord) error) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	// Pick the first sheet whose header row resolves the required columns.
	var rows [][]string
	var columns map[string]int
	var sheetName string
	for _, name := range f.GetSheetList() {
		candidate, err := f.GetRows(name)
		if err != nil || len(candidate) < 2 {
			continue
		}
		if mapped, err := mapColumns(candidate[0]); err == nil {
			rows = candidate
			columns = mapped
			sheetName = name
			break
		}
	}
	if columns == nil {
		return fmt.Errorf("no sheet in %s carries the registry columns", filepath.Base(path))
	}

	l.logger.InfoContext(ctx, "loading excel extract",
		slog.String("path", path),
		slog.String("sheet", sheetName),
		slog.Int("rows", len(rows)-1),
	)

	chunk := make([]domain.RawRecord, 0, l.chunkSize)
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if emptyRow(row) {
			continue
		}
		chunk = append(chunk, buildRaw(row, columns))
		if len(chunk) == l.chunkSize {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = make([]domain.RawRecord, 0, l.chunkSize)
		}
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}

// mapColumns resolves header positions against the alias lists and checks
// that every required column is present.
func mapColumns(headers []string) (map[string]int, error) {
	columns := make(map[string]int)
	for i, header := range headers {
		normalized := strings.ToUpper(strings.TrimSpace(header))
		for field, aliases := range columnAliases {
			if _, done := columns[field]; done {
				continue
			}
			for _, alias := range aliases {
				if normalized == alias {
					columns[field] = i
					break
				}
			}
		}
	}

	var missing []string
	for _, field := range requiredColumns {
		if _, ok := columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("input is missing required columns: %s", strings.Join(missing, ", "))
	}
	return columns, nil
}

func buildRaw(row []string, columns map[string]int) domain.RawRecord {
	cell := func(field string) string {
		idx, ok := columns[field]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	return domain.RawRecord{
		Matricula:         cell("matricula"),
		ORIP:              cell("orip"),
		Divipola:          cell("divipola"),
		Departamento:      cell("departamento"),
		Municipio:         cell("municipio"),
		Year:              cell("year"),
		ActCode:           cell("act_code"),
		ActName:           cell("act_name"),
		Value:             cell("value"),
		MarketIndicator:   cell("market"),
		NewProperty:       cell("new_property"),
		HasValue:          cell("has_value"),
		HasMultipleValues: cell("multi_value"),
		ReceiverCount:     cell("receivers"),
		GrantorCount:      cell("grantors"),
		Zone:              cell("zone"),
		RuralityCategory:  cell("rurality"),
		FolioStatus:       cell("folio_status"),
		AnnotationSeq:     cell("annotation"),
	}
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
