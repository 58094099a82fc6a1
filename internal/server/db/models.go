package db

import "time"

// Record is a stored proof record. The record JSON is sealed with the
// server master key; TaskData is the public task payload.
type Record struct {
	ID              string    `json:"id"`
	RecordEncrypted []byte    `json:"-"`
	TaskData        string    `json:"task_data"`
	CreatedAt       time.Time `json:"created_at"`
}

// Verification is one audit entry for a stored record.
type Verification struct {
	ID         int64     `json:"id"`
	RecordID   string    `json:"record_id"`
	Valid      bool      `json:"valid"`
	Reason     string    `json:"reason,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}
