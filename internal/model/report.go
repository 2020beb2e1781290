package model

import "time"

// JobState 转换任务状态
type JobState string

const (
	StateIdle        JobState = "idle"
	StateReading     JobState = "reading"
	StateClassifying JobState = "classifying"
	StateMerging     JobState = "merging"
	StateWriting     JobState = "writing"
	StateDone        JobState = "done"
	StateFailed      JobState = "failed"
	StateCancelled   JobState = "cancelled"
)

// Terminal 是否为终止状态
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// IssueKind 行级问题类型
type IssueKind string

const (
	IssueFailed  IssueKind = "failed"
	IssueDropped IssueKind = "dropped"
)

// RowIssue 未写入输出的行及原因
type RowIssue struct {
	LineNumber int       `json:"lineNumber"`
	Kind       IssueKind `json:"kind"`
	Reason     string    `json:"reason"`
}

// JobReport 任务汇总（N 行转换、M 行失败、K 行剔除）
type JobReport struct {
	JobID          string        `json:"jobId"`
	BOMFile        string        `json:"bomFile"`
	CoordinateFile string        `json:"coordinateFile"`
	OutputFile     string        `json:"outputFile"`
	State          JobState      `json:"state"`
	TotalRows      int           `json:"totalRows"`
	ConvertedRows  int           `json:"convertedRows"`
	FailedRows     int           `json:"failedRows"`
	DroppedRows    int           `json:"droppedRows"`
	TotalQuantity  float64       `json:"totalQuantity"`
	LLMCalls       int64         `json:"llmCalls"`
	Issues         []RowIssue    `json:"issues"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
}
