// Package dataset writes and reads the labeled trial log.
//
// The log is a comma-delimited file with one row per trial, in trial order.
// Row order is the only link between a row and an externally captured network
// trace, so rows are never dropped, reordered or retried.
package dataset

import (
	"encoding/hex"
	"strings"
)

const (
	// FileName is the dataset file created inside the output directory.
	FileName = "Client Requests.csv"

	ColumnRandom    = "client_hello_random"
	ColumnLabel     = "label"
	ColumnTruncated = "skipped_ccs_fin"

	// CorrelationSize is the length of a ClientHello random.
	CorrelationSize = 32
)

// Header is the fixed first line of every dataset.
var Header = []string{ColumnRandom, ColumnLabel, ColumnTruncated}

const (
	tokenTrue  = "TRUE"
	tokenFalse = "FALSE"
)

// Row is one trial.
type Row struct {
	Correlation [CorrelationSize]byte
	// Label is the raw vector name; it is sanitized when encoded.
	Label     string
	Truncated bool
}

// Fields renders the row as its three delimited columns.
func (r Row) Fields() []string {
	return []string{FormatCorrelation(r.Correlation[:]), SanitizeLabel(r.Label), FormatBool(r.Truncated)}
}

// FormatCorrelation renders b as lower-case hex octets joined by colons,
// the form packet dissectors print handshake randoms in.
func FormatCorrelation(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{c}))
	}
	return sb.String()
}

// ParseCorrelation is the inverse of FormatCorrelation for 32-byte values.
func ParseCorrelation(s string) ([CorrelationSize]byte, error) {
	var out [CorrelationSize]byte
	parts := strings.Split(s, ":")
	if len(parts) != CorrelationSize {
		return out, errMalformed("correlation value must have %d octets, got %d", CorrelationSize, len(parts))
	}
	for i, p := range parts {
		if len(p) != 2 || strings.ToLower(p) != p {
			return out, errMalformed("octet %d %q is not two lower-case hex digits", i, p)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return out, errMalformed("octet %d: %v", i, err)
		}
		out[i] = b[0]
	}
	return out, nil
}

// SanitizeLabel replaces spaces and commas so the label never splits a row.
func SanitizeLabel(label string) string {
	return strings.NewReplacer(" ", "_", ",", "_").Replace(label)
}

func FormatBool(v bool) string {
	if v {
		return tokenTrue
	}
	return tokenFalse
}

func parseBool(s string) (bool, error) {
	switch s {
	case tokenTrue:
		return true, nil
	case tokenFalse:
		return false, nil
	default:
		return false, errMalformed("%s must be %s or %s, got %q", ColumnTruncated, tokenTrue, tokenFalse, s)
	}
}
