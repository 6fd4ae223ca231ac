package monitor

import (
	"time"

	"okx-tracker/internal/ledger"
	"okx-tracker/internal/snapshot"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventCycle           EventType = "cycle"
	EventHistoryFallback EventType = "history_fallback"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CyclePayload 记录一次刷新周期的结果。
type CyclePayload struct {
	CycleID       string            `json:"cycleId"`
	Outcome       string            `json:"outcome"`
	TotalEquity   float64           `json:"totalEq"`
	Positions     int               `json:"positions"`
	History       int               `json:"history"`
	HistorySource ledger.Provenance `json:"historySource,omitempty"`
	Degraded      []snapshot.Slice  `json:"degraded,omitempty"`
	DurationMs    int64             `json:"durationMs"`
}

// FallbackPayload 记录历史降级为成交明细的情况。
type FallbackPayload struct {
	CycleID       string `json:"cycleId"`
	PrimaryError  string `json:"primaryError,omitempty"`
	FallbackError string `json:"fallbackError,omitempty"`
	Records       int    `json:"records"`
	Rejected      int    `json:"rejected"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
