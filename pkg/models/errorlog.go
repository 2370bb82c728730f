package models

import "time"

// Severity ranks how urgent an error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ErrorLogEntry records one failed call attempt.
type ErrorLogEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	Endpoint     string    `json:"endpoint"`
	ErrorType    string    `json:"errorType"`
	ErrorMessage string    `json:"errorMessage"`
	Severity     Severity  `json:"severity"`
	Attempt      int       `json:"attempt"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"timestamp"`
}

// ErrorQueryOpts specifies filters for querying the error log.
type ErrorQueryOpts struct {
	Since          time.Time
	Severity       Severity
	Endpoint       string
	ErrorType      string
	UnresolvedOnly bool
	Limit          int
}

// ErrorStat counts errors grouped by type and severity.
type ErrorStat struct {
	ErrorType string   `json:"errorType"`
	Severity  Severity `json:"severity"`
	Count     int      `json:"count"`
}
