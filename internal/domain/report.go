package domain

import (
	"encoding/json"
	"time"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const (
	ErrCodeInputInvalid   = "input_invalid"
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeParseFailed    = "parse_failed"
	ErrCodeNoCandidates   = "no_candidates"
	ErrCodeIOFailed       = "io_failed"
	ErrCodeLocked         = "locked"
	ErrCodeCancelled      = "cancelled"
	ErrCodeConfigNotFound = "config_not_found"
	ErrCodeConfigInvalid  = "config_invalid"
)

// RunReport 是对外稳定输出（stdout JSON）的结构。
type RunReport struct {
	RunID     string `json:"run_id"`
	Input     string `json:"input"`
	RawPath   string `json:"raw_path"`
	FinalPath string `json:"final_path"`
	DryRun    bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Summary ReportSummary `json:"summary"`
}

type ReportSummary struct {
	Total         int `json:"total"`
	Matched       int `json:"matched"`
	LowConfidence int `json:"low_confidence"`
	NoCandidates  int `json:"no_candidates"`
	Scored        int `json:"scored"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) status 由 error_code 推导
// 3) summary 由 records + outcomes 计算得出（outcomes 可能比 records 短：中途失败）
func (r *RunReport) Finalize(records []GameRecord, outcomes []Outcome) {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.ErrorCode == "" {
		r.Status = StatusOK
	} else {
		r.Status = StatusFailed
	}

	s := ReportSummary{Total: len(records)}
	for _, o := range outcomes {
		switch o {
		case OutcomeMatched:
			s.Matched++
		case OutcomeLowConfidence:
			s.LowConfidence++
		case OutcomeNoCandidates:
			s.NoCandidates++
		}
	}
	for i := range records {
		if records[i].Scored() {
			s.Scored++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
