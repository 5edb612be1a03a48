// Package recordlog is the append-only audit log of saved cases. Records have
// no key; saving the same patient twice yields two rows.
package recordlog

import (
	"context"
	"fmt"
	"time"
)

// Record is one saved case.
type Record struct {
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Timestamp      time.Time `json:"timestamp"`
	CaseSummary    string    `json:"case_summary"`
	FinalDiagnosis string    `json:"final_diagnosis"`
	GeneratedNote  string    `json:"generated_note"`
}

// Header is the column order shared by every tabular backend.
var Header = []string{"Name", "Phone", "Timestamp", "Case Summary", "Final Diagnosis", "Generated Note"}

// Sink appends records. Implementations serialise concurrent appends.
type Sink interface {
	Append(ctx context.Context, r Record) error
	Close() error
}

// Lister is implemented by sinks that can read their records back, oldest
// first.
type Lister interface {
	List(ctx context.Context, limit, offset int) ([]Record, int, error)
}

// WriteError is returned when a record could not be stored.
type WriteError struct {
	Backend string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("record log %s write failed: %v", e.Backend, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// row renders r in Header order. Timestamps are RFC 3339 in UTC.
func (r Record) row() []string {
	return []string{
		r.Name,
		r.Phone,
		r.Timestamp.UTC().Format(time.RFC3339),
		r.CaseSummary,
		r.FinalDiagnosis,
		r.GeneratedNote,
	}
}

func recordFromRow(row []string) (Record, error) {
	if len(row) != len(Header) {
		return Record{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}
	ts, err := time.Parse(time.RFC3339, row[2])
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp %q: %w", row[2], err)
	}
	return Record{
		Name:           row[0],
		Phone:          row[1],
		Timestamp:      ts,
		CaseSummary:    row[3],
		FinalDiagnosis: row[4],
		GeneratedNote:  row[5],
	}, nil
}
