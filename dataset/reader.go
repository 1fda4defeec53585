package dataset

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
)

// Read parses a dataset and validates every row. Labels are returned in
// their sanitized, on-disk form.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errMalformed("missing header")
		}
		return nil, errMalformed("header: %v", err)
	}
	if strings.Join(header, ",") != strings.Join(Header, ",") {
		return nil, errMalformed("unexpected header %q", strings.Join(header, ","))
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, errMalformed("line %d: %v", line, err)
		}
		c, err := ParseCorrelation(rec[0])
		if err != nil {
			return nil, errMalformed("line %d: %v", line, err)
		}
		if rec[1] == "" || SanitizeLabel(rec[1]) != rec[1] {
			return nil, errMalformed("line %d: label %q is not delimiter-safe", line, rec[1])
		}
		truncated, err := parseBool(rec[2])
		if err != nil {
			return nil, errMalformed("line %d: %v", line, err)
		}
		rows = append(rows, Row{Correlation: c, Label: rec[1], Truncated: truncated})
	}
}

func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Stats summarizes a dataset.
type Stats struct {
	Rows      int
	Truncated int
	Labels    map[string]int
	// Duplicates counts rows whose correlation value already appeared.
	Duplicates int
}

func Summarize(rows []Row) Stats {
	s := Stats{Rows: len(rows), Labels: map[string]int{}}
	seen := make(map[[CorrelationSize]byte]struct{}, len(rows))
	for _, r := range rows {
		if r.Truncated {
			s.Truncated++
		}
		s.Labels[r.Label]++
		if _, ok := seen[r.Correlation]; ok {
			s.Duplicates++
		}
		seen[r.Correlation] = struct{}{}
	}
	return s
}

// TruncatedFraction is the share of rows recorded with the truncated shape.
func (s Stats) TruncatedFraction() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Truncated) / float64(s.Rows)
}

// LabelNames returns the distinct labels, sorted.
func (s Stats) LabelNames() []string {
	out := make([]string, 0, len(s.Labels))
	for l := range s.Labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
