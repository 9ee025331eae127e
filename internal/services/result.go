package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/tcg-pricesync/internal/models"
)

// Result is the structured outcome of one run: the counters plus every rejected record.
type Result struct {
	RunID          string                  `json:"run_id"`
	Kind           models.RunKind          `json:"kind"`
	Source         string                  `json:"source"`
	State          models.RunState         `json:"state"`
	Processed      int                     `json:"processed"`
	Updated        int                     `json:"updated"`
	Capped         int                     `json:"capped"`
	Zeroed         int                     `json:"zeroed"`
	NotFound       int                     `json:"not_found"`
	Ambiguous      int                     `json:"ambiguous"`
	Skipped        int                     `json:"skipped"`
	Malformed      int                     `json:"malformed"`
	Errors         int                     `json:"errors"`
	InvalidNumbers int                     `json:"invalid_numbers,omitempty"`
	Rejected       []models.RejectedRecord `json:"rejected,omitempty"`
	RejectsFile    string                  `json:"rejects_file,omitempty"`
	Err            string                  `json:"error,omitempty"`
	StartedAt      time.Time               `json:"started_at"`
	Duration       time.Duration           `json:"duration"`
}

func newResult(runID string, kind models.RunKind, source string, started time.Time) *Result {
	return &Result{
		RunID:     runID,
		Kind:      kind,
		Source:    source,
		State:     models.RunStateIdle,
		StartedAt: started,
	}
}

func (r *Result) reject(line int, ref, reason string, detail error, raw map[string]string) {
	rec := models.RejectedRecord{
		RunID:   r.RunID,
		Line:    line,
		CardRef: ref,
		Reason:  reason,
	}
	if detail != nil {
		rec.Detail = detail.Error()
	}
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			rec.Raw = string(b)
		}
	}
	r.Rejected = append(r.Rejected, rec)
}

// ImportRun converts the result into its persisted form.
func (r *Result) ImportRun() *models.ImportRun {
	finished := r.StartedAt.Add(r.Duration)
	return &models.ImportRun{
		ID:         r.RunID,
		Kind:       r.Kind,
		Source:     r.Source,
		State:      r.State,
		Processed:  r.Processed,
		Updated:    r.Updated,
		Capped:     r.Capped,
		Zeroed:     r.Zeroed,
		NotFound:   r.NotFound,
		Ambiguous:  r.Ambiguous,
		Skipped:    r.Skipped,
		Malformed:  r.Malformed,
		Errors:     r.Errors,
		Invalid:    r.InvalidNumbers,
		Error:      r.Err,
		StartedAt:  r.StartedAt,
		FinishedAt: &finished,
	}
}

// LogFields are the summary fields logged at the end of a run.
func (r *Result) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("kind", string(r.Kind)),
		zap.String("source", r.Source),
		zap.String("state", string(r.State)),
		zap.Int("processed", r.Processed),
		zap.Int("updated", r.Updated),
		zap.Int("not_found", r.NotFound),
		zap.Int("ambiguous", r.Ambiguous),
		zap.Int("skipped", r.Skipped),
		zap.Int("malformed", r.Malformed),
		zap.Int("errors", r.Errors),
		zap.Int("capped", r.Capped),
		zap.Int("zeroed", r.Zeroed),
		zap.Int("invalid_numbers", r.InvalidNumbers),
		zap.Duration("duration", r.Duration),
	}
}

var rejectsHeader = []string{"run_id", "line", "card_ref", "reason", "detail", "raw"}

// WriteRejectsCSV writes rejected records to dir/<runID>.csv and returns the path.
func WriteRejectsCSV(dir, runID string, rejected []models.RejectedRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, runID+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(rejectsHeader); err != nil {
		return "", err
	}
	for _, rec := range rejected {
		if err := w.Write([]string{
			runID,
			strconv.Itoa(rec.Line),
			rec.CardRef,
			rec.Reason,
			rec.Detail,
			rec.Raw,
		}); err != nil {
			return "", fmt.Errorf("write reject for line %d: %w", rec.Line, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}
