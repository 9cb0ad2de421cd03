package models

import "time"

// AuditEvent records the terminal outcome of one credential issuance.
// AuditEvent 记录一次凭证签发的最终结果。
type AuditEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}
