package cloudlog

import (
	"fmt"
	"strings"
	"time"
)

// Entry is a single log record.
type Entry struct {
	LogName     string         `json:"logName,omitempty"`
	InsertID    string         `json:"insertId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Severity    string         `json:"severity,omitempty"`
	TextPayload string         `json:"textPayload,omitempty"`
	JSONPayload map[string]any `json:"jsonPayload,omitempty"`
}

// Message prefers jsonPayload.message and falls back to textPayload.
func (e Entry) Message() string {
	if e.JSONPayload != nil {
		if msg, ok := e.JSONPayload["message"]; ok {
			if s, ok := msg.(string); ok {
				return s
			}
			return fmt.Sprint(msg)
		}
	}
	return e.TextPayload
}

var errorSeverities = map[string]bool{
	"ERROR":     true,
	"CRITICAL":  true,
	"ALERT":     true,
	"EMERGENCY": true,
}

// IsError reports whether the entry belongs on the error stream.
func (e Entry) IsError() bool {
	return errorSeverities[strings.ToUpper(e.Severity)]
}

// ListRequest is the body of entries:list.
type ListRequest struct {
	ResourceNames []string `json:"resourceNames"`
	Filter        string   `json:"filter,omitempty"`
	OrderBy       string   `json:"orderBy,omitempty"`
	PageSize      int      `json:"pageSize,omitempty"`
	PageToken     string   `json:"pageToken,omitempty"`
}

type ListResponse struct {
	Entries       []Entry `json:"entries"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}
