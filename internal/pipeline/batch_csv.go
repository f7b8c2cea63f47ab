package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func sanitizer() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
	})
	return policy
}

// Sanitize strips executable markup from one cell.
func Sanitize(v string) string {
	return sanitizer().Sanitize(v)
}

// ParseBatch reads a CSV blob whose first record is the header. Every data
// cell is sanitized. A blob that is not CSV, has a ragged row, or has no
// data rows is malformed.
func ParseBatch(body []byte) ([]task.Row, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = 0
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, wrap(ErrMalformedInput, "empty csv")
		}
		return nil, wrap(ErrMalformedInput, "csv header: %v", err)
	}

	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == "" {
			return nil, wrap(ErrMalformedInput, "csv header column %d is empty", i+1)
		}
	}

	var rows []task.Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrap(ErrMalformedInput, "csv: %v", err)
		}

		row := make(task.Row, len(header))
		for i, name := range header {
			row[i] = task.Param{Name: name, Value: Sanitize(rec[i])}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, wrap(ErrMalformedInput, "csv has no data rows")
	}
	return rows, nil
}
