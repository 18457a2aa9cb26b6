package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SummaryAndUTC(t *testing.T) {
	scored := NewGameRecord("A", "/a")
	scored.Score = 80
	scored.Correct = 0.1

	r := RunReport{
		Input:      "/abs/itchio_520.html",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
	}

	records := []GameRecord{scored, NewGameRecord("B", "/b"), NewGameRecord("C", "/c")}
	outcomes := []Outcome{OutcomeMatched, OutcomeLowConfidence, OutcomeNoCandidates}
	r.Finalize(records, outcomes)

	if r.Status != StatusOK {
		t.Fatalf("期望 status=ok，实际=%q", r.Status)
	}
	want := ReportSummary{Total: 3, Matched: 1, LowConfidence: 1, NoCandidates: 1, Scored: 1}
	if r.Summary != want {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_Finalize_FailedWithPartialOutcomes(t *testing.T) {
	r := RunReport{ErrorCode: ErrCodeFetchFailed, ErrorMsg: "HTTP 500"}
	records := []GameRecord{NewGameRecord("A", "/a"), NewGameRecord("B", "/b")}

	// 第二条记录处理前就失败：outcomes 只有一条。
	r.Finalize(records, []Outcome{OutcomeLowConfidence})

	if r.Status != StatusFailed {
		t.Fatalf("期望 status=failed，实际=%q", r.Status)
	}
	if r.Summary.Total != 2 || r.Summary.LowConfidence != 1 || r.Summary.Matched != 0 {
		t.Fatalf("summary 不符合预期：%+v", r.Summary)
	}
}
