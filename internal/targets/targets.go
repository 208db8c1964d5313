package targets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoTargets is returned when the input holds no usable target.
var ErrNoTargets = errors.New("no targets provided")

// Normalize trims each target and drops blanks and # comments. Duplicates are
// kept: every entry is scraped.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FromCSV reads the first column of every row. A leading header row named
// "url" is skipped.
func FromCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var raw []string
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(row) == 0 {
			continue
		}

		value := strings.TrimPrefix(row[0], "\ufeff")
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(value), "url") {
				continue
			}
		}
		raw = append(raw, value)
	}

	targets := Normalize(raw)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}

// FromList splits a comma separated list.
func FromList(list string) []string {
	return Normalize(strings.Split(list, ","))
}
