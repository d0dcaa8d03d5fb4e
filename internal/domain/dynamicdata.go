package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is one JSON document stored under (UserID, Key).
type Record struct {
	ID          int64
	UserID      string
	Key         string
	Data        json.RawMessage
	UpdatedTime time.Time
	UpdatedBy   string
}

func NewRecord(userID, key string, data []byte, updatedBy string, now time.Time) (*Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, Invalid("userId", "is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, Invalid("key", "is required")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, Invalid("data", "cannot be null or empty")
	}
	if !json.Valid(data) {
		return nil, Invalid("data", "is not valid JSON")
	}
	if updatedBy == "" {
		updatedBy = "system"
	}
	return &Record{
		UserID:      userID,
		Key:         key,
		Data:        json.RawMessage(data),
		UpdatedTime: now,
		UpdatedBy:   updatedBy,
	}, nil
}
