package domain

import "time"

// ScanStatus is the lifecycle state of a bulk scan.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "RUNNING"
	ScanCompleted ScanStatus = "COMPLETED"
	ScanCancelled ScanStatus = "CANCELLED"
	ScanFailed    ScanStatus = "FAILED"
)

// ScanError records a single non-fatal failure inside a scan, e.g. an
// adapter timeout for one pair. Scan-level partial failures live here
// rather than failing the overall scan.
type ScanError struct {
	LearnerID          string `json:"learnerId,omitempty"`
	DuplicateLearnerID string `json:"duplicateLearnerId,omitempty"`
	Stage              string `json:"stage"`
	Message            string `json:"message"`
}

// ScanReport is the persisted outcome of a bulk scan.
type ScanReport struct {
	ID         string     `json:"id"`
	Population string     `json:"population"`
	Status     ScanStatus `json:"status"`

	// Incremental scans only cover learners changed since Since.
	Incremental bool       `json:"incremental"`
	Since       *time.Time `json:"since,omitempty"`

	LearnersScanned int         `json:"learnersScanned"`
	PairsEvaluated  int         `json:"pairsEvaluated"`
	FlagsCreated    int         `json:"flagsCreated"`
	FlagsUpdated    int         `json:"flagsUpdated"`
	Errors          []ScanError `json:"errors,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Done reports whether the scan reached a terminal status.
func (r *ScanReport) Done() bool {
	return r.Status != ScanRunning
}
