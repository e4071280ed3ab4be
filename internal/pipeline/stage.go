package pipeline

import (
	"time"
)

// StageStatus tracks one stage through its lifecycle.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
)

// StageState is the run record of one pipeline stage. Detail carries the
// stage's own report struct so the manifest serializes every per-stage
// counter without the pipeline knowing their shapes.
type StageState struct {
	Name        string      `json:"name"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Duration    string      `json:"duration,omitempty"`
	Error       string      `json:"error,omitempty"`
	Detail      any         `json:"detail,omitempty"`
}

func newStageState(name string) *StageState {
	return &StageState{Name: name, Status: StatusPending}
}

// Start marks the stage running.
func (s *StageState) Start() {
	s.Status = StatusRunning
	s.StartedAt = time.Now()
}

// Complete marks the stage finished and attaches its report.
func (s *StageState) Complete(detail any) {
	s.Status = StatusCompleted
	s.CompletedAt = time.Now()
	s.Duration = s.CompletedAt.Sub(s.StartedAt).String()
	s.Detail = detail
}

// Fail marks the stage failed.
func (s *StageState) Fail(err error) {
	s.Status = StatusFailed
	s.CompletedAt = time.Now()
	s.Duration = s.CompletedAt.Sub(s.StartedAt).String()
	s.Error = err.Error()
}

// Summary is the batch-level outcome rollup written into the manifest.
type Summary struct {
	InputRows         int `json:"input_rows"`
	NormalizedRecords int `json:"normalized_records"`
	OKRecords         int `json:"ok_records"`
	WarningRecords    int `json:"warning_records"`
	ErrorRecords      int `json:"error_records"`
	DuplicateKeys     int `json:"duplicate_keys"`
	ModelReadyRecords int `json:"model_ready_records"`
	ScoredRecords     int `json:"scored_records"`
	Anomalies         int `json:"anomalies"`
	HighRisk          int `json:"high_risk"`
	Suspicious        int `json:"suspicious"`
}

// Manifest is the full run record: identity, stage trail, partition row
// counts and the outcome summary. It is serialized to JSON next to the
// output datasets.
type Manifest struct {
	RunID       string         `json:"run_id"`
	InputFile   string         `json:"input_file"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Duration    string         `json:"duration,omitempty"`
	Stages      []*StageState  `json:"stages"`
	Partitions  map[string]int `json:"partitions,omitempty"`
	Summary     Summary        `json:"summary"`
}
