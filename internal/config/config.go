package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete pipeline configuration. Every threshold the
// processing stages consult lives here; stages receive their section by
// value and never read the environment themselves.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
	Features FeatureConfig  `yaml:"features" envconfig:"FEATURES"`
	Scorer   ScorerConfig   `yaml:"scorer" envconfig:"SCORER"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/etl.log"`
}

// PathsConfig contains file system locations for the batch run.
type PathsConfig struct {
	InputFile string `yaml:"input_file" envconfig:"INPUT_FILE"`
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"data/clean"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// PipelineConfig contains the classification and detection thresholds.
type PipelineConfig struct {
	// Plausible filing-year window; years outside it are data errors.
	YearMin int64 `yaml:"year_min" envconfig:"YEAR_MIN" default:"2000" validate:"gt=1800"`
	YearMax int64 `yaml:"year_max" envconfig:"YEAR_MAX" default:"2025" validate:"gtefield=YearMin"`

	// Monetary plausibility bounds in COP. Values above the ceiling are
	// digit-entry errors; value-bearing acts below the floor are warnings.
	ValueFloor   float64 `yaml:"value_floor" envconfig:"VALUE_FLOOR" default:"1000000" validate:"gt=0"`
	ValueCeiling float64 `yaml:"value_ceiling" envconfig:"VALUE_CEILING" default:"10000000000" validate:"gtfield=ValueFloor"`

	// Annotations per property-year above which activity is flagged.
	ActivityThreshold int `yaml:"activity_threshold" envconfig:"ACTIVITY_THRESHOLD" default:"150" validate:"gt=0"`

	// Zone categories accepted by the quality rules. SIN INFORMACION is a
	// valid category: failed geocoding is an expected outcome, not an error.
	AcceptedZones []string `yaml:"accepted_zones" envconfig:"ACCEPTED_ZONES" default:"URBANO,RURAL,SIN INFORMACION,MIXTO"`

	// Act-name substrings that mark a value-bearing act type.
	ValueBearingActs []string `yaml:"value_bearing_acts" envconfig:"VALUE_BEARING_ACTS" default:"COMPRAVENTA,HIPOTECA,VENTA,MUTUO"`

	// Ingestion chunking.
	ChunkSize int `yaml:"chunk_size" envconfig:"CHUNK_SIZE" default:"100000" validate:"gt=0"`
	Workers   int `yaml:"workers" envconfig:"WORKERS" default:"4" validate:"gt=0"`
}

// FeatureConfig contains the feature-engineering thresholds.
type FeatureConfig struct {
	// Value-band boundaries for the low/medium/high indicator features.
	LowValueMax  float64 `yaml:"low_value_max" envconfig:"LOW_VALUE_MAX" default:"50000000" validate:"gt=0"`
	HighValueMin float64 `yaml:"high_value_min" envconfig:"HIGH_VALUE_MIN" default:"500000000" validate:"gtfield=LowValueMax"`

	// Annotation count above which the high-activity feature fires.
	HighActivity int `yaml:"high_activity" envconfig:"HIGH_ACTIVITY" default:"10" validate:"gt=0"`
}

// ScorerConfig contains the ensemble anomaly scorer configuration.
type ScorerConfig struct {
	// Expected anomaly rate. The scorer derives its anomaly cutoff from
	// the (1-contamination) quantile of the fit-batch ensemble scores.
	Contamination float64 `yaml:"contamination" envconfig:"CONTAMINATION" default:"0.1" validate:"gt=0,lt=0.5"`

	Trees         int   `yaml:"trees" envconfig:"TREES" default:"100" validate:"gt=0"`
	SubsampleSize int   `yaml:"subsample_size" envconfig:"SUBSAMPLE_SIZE" default:"256" validate:"gt=1"`
	Neighbors     int   `yaml:"neighbors" envconfig:"NEIGHBORS" default:"20" validate:"gt=0"`
	Seed          int64 `yaml:"seed" envconfig:"SEED" default:"42"`

	// Ensemble weights. The rules weight is zero on the primary path; the
	// secondary 0.4/0.3/0.3 path enables it. Weights are renormalized
	// before use, so they need not sum to one.
	WeightIsolation float64 `yaml:"weight_isolation" envconfig:"WEIGHT_ISOLATION" default:"0.6" validate:"gte=0"`
	WeightDensity   float64 `yaml:"weight_density" envconfig:"WEIGHT_DENSITY" default:"0.4" validate:"gte=0"`
	WeightRules     float64 `yaml:"weight_rules" envconfig:"WEIGHT_RULES" default:"0" validate:"gte=0"`

	// Risk classification thresholds on the combined [0,1] score.
	HighRiskThreshold   float64 `yaml:"high_risk_threshold" envconfig:"HIGH_RISK_THRESHOLD" default:"0.7" validate:"gt=0,lte=1"`
	SuspiciousThreshold float64 `yaml:"suspicious_threshold" envconfig:"SUSPICIOUS_THRESHOLD" default:"0.4" validate:"gt=0,ltfield=HighRiskThreshold"`

	// Fallback anomaly cutoff, used when the statistical model weights
	// are zero and no contamination quantile can be taken.
	AnomalyThreshold float64 `yaml:"anomaly_threshold" envconfig:"ANOMALY_THRESHOLD" default:"0.5" validate:"gt=0,lte=1"`
}

// Load loads configuration in layers: struct-tag defaults, then
// environment variables (prefix PROPSAFE), then the given YAML file.
// Fields present in the file override everything; fields absent keep
// their env or default values.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("PROPSAFE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file on top of defaults,
// without consulting the environment.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks threshold consistency using the struct validation tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	total := c.Scorer.WeightIsolation + c.Scorer.WeightDensity + c.Scorer.WeightRules
	if total <= 0 {
		return fmt.Errorf("ensemble weights must sum to a positive value, got %.3f", total)
	}
	return nil
}

// Default returns the default configuration, matching the struct-tag
// defaults used by envconfig.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/etl.log",
		},
		Paths: PathsConfig{
			OutputDir: "data/clean",
			LogsDir:   "logs",
		},
		Pipeline: PipelineConfig{
			YearMin:           2000,
			YearMax:           2025,
			ValueFloor:        1_000_000,
			ValueCeiling:      10_000_000_000,
			ActivityThreshold: 150,
			AcceptedZones:     []string{"URBANO", "RURAL", "SIN INFORMACION", "MIXTO"},
			ValueBearingActs:  []string{"COMPRAVENTA", "HIPOTECA", "VENTA", "MUTUO"},
			ChunkSize:         100_000,
			Workers:           4,
		},
		Features: FeatureConfig{
			LowValueMax:  50_000_000,
			HighValueMin: 500_000_000,
			HighActivity: 10,
		},
		Scorer: ScorerConfig{
			Contamination:       0.1,
			Trees:               100,
			SubsampleSize:       256,
			Neighbors:           20,
			Seed:                42,
			WeightIsolation:     0.6,
			WeightDensity:       0.4,
			WeightRules:         0,
			HighRiskThreshold:   0.7,
			SuspiciousThreshold: 0.4,
			AnomalyThreshold:    0.5,
		},
	}
}
