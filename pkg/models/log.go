package models

import "time"

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelAgent   LogLevel = "agent"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelDebug   LogLevel = "debug"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LevelInfo, LevelAgent, LevelSuccess, LevelWarning, LevelError, LevelDebug:
		return true
	default:
		return false
	}
}

// ExecutionLog is one ordered event inside an execution.
type ExecutionLog struct {
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Sequence    int64          `json:"sequence"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
