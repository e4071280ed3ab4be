package features

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propsafe/internal/config"
	"propsafe/pkg/contracts/domain"
)

func testEngineer() *Engineer {
	return NewEngineer(config.Default().Features, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleRecord() domain.Record {
	return domain.Record{
		Year:               domain.Int(2021),
		Value:              domain.Float(150_000_000),
		Zone:               "URBANO",
		ActCode:            "125",
		AnnotationsPerYear: 4,
		ReceiverCount:      domain.Int(2),
		GrantorCount:       domain.Int(1),
		NewProperty:        domain.Bool(false),
		HasValue:           domain.Bool(true),
	}
}

func TestTransformWidth(t *testing.T) {
	e := testEngineer()
	r := sampleRecord()
	v := e.Transform(&r)
	assert.Len(t, v, Width)
	assert.Len(t, e.FeatureNames(), Width)
}

func TestTransformDeterministic(t *testing.T) {
	e := testEngineer()
	r := sampleRecord()
	first := e.Transform(&r)
	for i := 0; i < 5; i++ {
		again := e.Transform(&r)
		require.Len(t, again, Width)
		for j := range first {
			// Bit-identical, not approximately equal.
			assert.Equal(t, math.Float64bits(first[j]), math.Float64bits(again[j]),
				"feature %d differs between runs", j)
		}
	}
}

func TestTransformValues(t *testing.T) {
	e := testEngineer()
	r := sampleRecord()
	v := e.Transform(&r)

	assert.Equal(t, 2021.0, v[0])
	assert.Equal(t, (2021.0-2015.0)*365, v[5])
	assert.Equal(t, 150_000_000.0, v[6])
	assert.InDelta(t, math.Log1p(150_000_000), v[7], 1e-12)
	assert.Equal(t, 150.0, v[8])
	assert.Equal(t, 0.15, v[9])

	// 150M sits in the middle value band.
	assert.Equal(t, 0.0, v[10])
	assert.Equal(t, 1.0, v[11])
	assert.Equal(t, 0.0, v[12])

	// Area columns are structural zeros.
	for j := 13; j <= 20; j++ {
		assert.Zero(t, v[j], "area column %d", j)
	}

	assert.Equal(t, 4.0, v[21])
	assert.Equal(t, 1.0, v[24], "urban zone")
	assert.Equal(t, 0.0, v[25])
	assert.Equal(t, 125.0, v[34])
	assert.Equal(t, 1.0, v[35], "act group is floor(125/100)")
	assert.Equal(t, 2.0, v[36])
	assert.Equal(t, 1.0, v[37])
}

func TestTransformMissingFieldsDefaultToZero(t *testing.T) {
	e := testEngineer()
	r := domain.Record{}
	v := e.Transform(&r)

	for j, val := range v {
		switch j {
		case 21:
			// Annotation count floors at 1.
			assert.Equal(t, 1.0, val)
		case 22:
			assert.InDelta(t, math.Log1p(1), val, 1e-12)
		case 26:
			// No zone text means neither urban nor rural.
			assert.Equal(t, 1.0, val)
		case 33:
			// Missing has-value defaults to 1: most registry acts carry one.
			assert.Equal(t, 1.0, val)
		default:
			assert.Zero(t, val, "feature %d should default to zero", j)
		}
	}
}

func TestTransformBatchSanitizesNaN(t *testing.T) {
	e := testEngineer()
	r := sampleRecord()
	r.Value = domain.Float(math.NaN())

	matrix, report := e.TransformBatch(context.Background(), []domain.Record{r})
	require.Len(t, matrix, 1)
	for j, val := range matrix[0] {
		assert.False(t, math.IsNaN(val), "feature %d still NaN", j)
	}
	assert.NotEmpty(t, report.SanitizedNaNs)
	assert.Equal(t, 1, report.SanitizedNaNs["valor_acto"])
}

func TestTransformBatchShape(t *testing.T) {
	e := testEngineer()
	records := []domain.Record{sampleRecord(), sampleRecord(), {}}
	matrix, report := e.TransformBatch(context.Background(), records)

	assert.Len(t, matrix, 3)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, Width, report.Width)
	for _, row := range matrix {
		assert.Len(t, row, Width)
	}
}
