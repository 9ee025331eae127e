package models

import (
	"time"
)

// RunState is the lifecycle state of one import run
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateReading    RunState = "reading"
	RunStateProcessing RunState = "processing"
	RunStateReporting  RunState = "reporting"
	RunStateClosed     RunState = "closed"
	RunStateFatal      RunState = "fatal"
)

// RunKind distinguishes price imports from catalog imports and maintenance passes
type RunKind string

const (
	RunKindPrices   RunKind = "prices"
	RunKindCatalog  RunKind = "catalog"
	RunKindSanitize RunKind = "sanitize"
)

// Reject reasons stored on RejectedRecord.Reason
const (
	RejectMissingField  = "missing_required_field"
	RejectMalformed     = "malformed"
	RejectNoObservation = "no_observation"
	RejectNotFound      = "not_found"
	RejectAmbiguous     = "ambiguous"
	RejectLookupFailure = "lookup_failure"
	RejectFetchFailure  = "fetch_failure"
	RejectPriceRejected = "price_rejected"
	RejectInvalidNumber = "invalid_number"
	RejectWriteFailure  = "write_failure"
)

// ImportRun stores the outcome counters of one pipeline run for auditing
type ImportRun struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	Kind       RunKind    `json:"kind" gorm:"not null;index"`
	Source     string     `json:"source"`
	State      RunState   `json:"state" gorm:"not null"`
	Processed  int        `json:"processed"`
	Updated    int        `json:"updated"`
	Capped     int        `json:"capped"`
	Zeroed     int        `json:"zeroed"`
	NotFound   int        `json:"not_found"`
	Ambiguous  int        `json:"ambiguous"`
	Skipped    int        `json:"skipped"`
	Malformed  int        `json:"malformed"`
	Errors     int        `json:"errors"`
	Invalid    int        `json:"invalid_numbers" gorm:"column:invalid_numbers"` // catalog rows with an unusable collector number
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" gorm:"index"`
	FinishedAt *time.Time `json:"finished_at"`

	Rejected []RejectedRecord `json:"rejected,omitempty" gorm:"foreignKey:RunID"`
}

// RejectedRecord is a dead-letter entry: a source row that was not persisted as given
type RejectedRecord struct {
	ID      uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID   string `json:"run_id" gorm:"not null;index"`
	Line    int    `json:"line"`
	CardRef string `json:"card_ref"` // id or name as it appeared in the source
	Reason  string `json:"reason" gorm:"not null;index"`
	Detail  string `json:"detail"`
	Raw     string `json:"raw"` // source row as JSON
}
