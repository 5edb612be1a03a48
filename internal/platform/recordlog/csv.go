package recordlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// CSVSink appends records to a delimited file, creating it with a header row
// when it is missing or empty.
type CSVSink struct {
	mu   sync.Mutex
	path string
}

func NewCSVSink(path string) (*CSVSink, error) {
	if path == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create record directory: %w", err)
		}
	}
	return &CSVSink{path: path}, nil
}

func (s *CSVSink) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Backend: "csv", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.append(r); err != nil {
		return &WriteError{Backend: "csv", Err: err}
	}
	return nil
}

func (s *CSVSink) append(r Record) (err error) {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	if err := w.Write(r.row()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// List reads the file back. A missing file is an empty log.
func (s *CSVSink) List(ctx context.Context, limit, offset int) ([]Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = len(Header)

	var (
		out   []Record
		total int
		line  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read records: %w", err)
		}
		line++
		if line == 1 {
			continue
		}
		if total >= offset && (limit <= 0 || len(out) < limit) {
			rec, err := recordFromRow(row)
			if err != nil {
				return nil, 0, fmt.Errorf("record %d: %w", total+1, err)
			}
			out = append(out, rec)
		}
		total++
	}
	return out, total, nil
}

func (s *CSVSink) Close() error { return nil }
