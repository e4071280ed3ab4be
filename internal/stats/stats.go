// Package stats computes descriptive value statistics over the model-ready
// partition, grouped by region and year. The aggregates feed the market
// reports that accompany each batch run.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"propsafe/pkg/contracts/domain"
)

// GroupStat is one aggregate row: value statistics for a grouping key in
// one filing year.
type GroupStat struct {
	Dimension string  `json:"dimension"`
	Key       string  `json:"key"`
	Year      int64   `json:"year"`
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	Median    float64 `json:"median"`
	StdDev    float64 `json:"std_dev"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// Headers returns the CSV column layout for aggregate tables.
func Headers() []string {
	return []string{"dimension", "key", "year", "count", "mean", "median", "std_dev", "min", "max"}
}

// Row renders the aggregate as a CSV row.
func (g *GroupStat) Row() []string {
	return []string{
		g.Dimension,
		g.Key,
		strconv.FormatInt(g.Year, 10),
		strconv.Itoa(g.Count),
		strconv.FormatFloat(g.Mean, 'f', 2, 64),
		strconv.FormatFloat(g.Median, 'f', 2, 64),
		strconv.FormatFloat(g.StdDev, 'f', 2, 64),
		strconv.FormatFloat(g.Min, 'f', 2, 64),
		strconv.FormatFloat(g.Max, 'f', 2, 64),
	}
}

// Aggregator groups model-ready records and computes value statistics.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

type groupKey struct {
	dimension string
	key       string
	year      int64
}

// Aggregate computes value statistics over the model-ready subset of the
// batch, grouped by departamento, municipio and zone per filing year.
// Records without a valid year or value are skipped; the model-ready
// partition guarantees values, but this function does not rely on callers
// pre-filtering.
func (a *Aggregator) Aggregate(ctx context.Context, records []domain.Record) []GroupStat {
	groups := make(map[groupKey][]float64)
	for i := range records {
		r := &records[i]
		if !r.InPartition(domain.PartitionModelReady) || !r.Year.Valid || !r.Value.Valid {
			continue
		}
		year := r.Year.Int64
		value := r.Value.Float64
		if r.Departamento != "" {
			k := groupKey{"departamento", r.Departamento, year}
			groups[k] = append(groups[k], value)
		}
		if r.Municipio != "" {
			k := groupKey{"municipio", r.Municipio, year}
			groups[k] = append(groups[k], value)
		}
		if r.Zone != "" {
			k := groupKey{"zona", r.Zone, year}
			groups[k] = append(groups[k], value)
		}
	}

	out := make([]GroupStat, 0, len(groups))
	for k, values := range groups {
		sort.Float64s(values)
		out = append(out, GroupStat{
			Dimension: k.dimension,
			Key:       k.key,
			Year:      k.year,
			Count:     len(values),
			Mean:      stat.Mean(values, nil),
			Median:    stat.Quantile(0.5, stat.Empirical, values, nil),
			StdDev:    sampleStdDev(values),
			Min:       values[0],
			Max:       values[len(values)-1],
		})
	}

	// Deterministic output order for diffable report files.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Year < out[j].Year
	})

	a.logger.InfoContext(ctx, "aggregate statistics computed",
		slog.Int("groups", len(out)),
		slog.Int("records", len(records)),
	)
	return out
}

// sampleStdDev guards the single-observation case, where gonum returns NaN.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}
