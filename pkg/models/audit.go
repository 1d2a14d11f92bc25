package models

import "time"

// Stage names the pipeline stage that produced a record.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageAggregate  Stage = "aggregate"
	StageSynthesize Stage = "synthesize"
	StageProgram    Stage = "program"
)

// AuditStatus classifies the outcome of a stage transition.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
	AuditCached  AuditStatus = "cached"
	AuditSkipped AuditStatus = "skipped"
)

// AuditRecord associates one derived record with the input ids that
// produced it. The audit log is append-only and is the sole source of
// truth for lineage.
type AuditRecord struct {
	RecordID  string      `json:"record_id"`
	RunID     string      `json:"run_id"`
	Stage     Stage       `json:"stage"`
	InputIDs  []string    `json:"input_ids"`
	OutputID  string      `json:"output_id"`
	Status    AuditStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditQueryOpts specifies filters for querying audit records.
type AuditQueryOpts struct {
	RunID    string
	Stage    Stage
	Status   AuditStatus
	OutputID string
	Since    time.Time
	Limit    int
}

// StageSummary reports per-stage outcome counts for a run.
type StageSummary struct {
	Stage     Stage `json:"stage"`
	Processed int   `json:"processed"`
	Cached    int   `json:"cached"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
}

// RunSummary is the user-visible result of a pipeline run. Partial
// completion is reported explicitly, never silently treated as success.
type RunSummary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stages     []StageSummary `json:"stages"`
}
