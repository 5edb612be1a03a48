package recordlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresSink stores records in the session_record table. Each append is a
// single INSERT; the table has a surrogate sequence only for ordering.
type PostgresSink struct {
	db queryable
}

// NewPostgresSink takes a *pgxpool.Pool or anything with the same query
// methods. The caller owns the pool.
func NewPostgresSink(db queryable) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Append(ctx context.Context, r Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_record (name, phone, recorded_at, case_summary, final_diagnosis, generated_note)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.Name, r.Phone, r.Timestamp.UTC(), r.CaseSummary, r.FinalDiagnosis, r.GeneratedNote)
	if err != nil {
		return &WriteError{Backend: "postgres", Err: err}
	}
	return nil
}

func (s *PostgresSink) List(ctx context.Context, limit, offset int) ([]Record, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM session_record`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT name, phone, recorded_at, case_summary, final_diagnosis, generated_note
		FROM session_record ORDER BY seq LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.Phone, &r.Timestamp, &r.CaseSummary, &r.FinalDiagnosis, &r.GeneratedNote); err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Close is a no-op; the pool is closed by its owner.
func (s *PostgresSink) Close() error { return nil }
