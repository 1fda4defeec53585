package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(c byte, label, truncated string) string {
	var b [CorrelationSize]byte
	for i := range b {
		b[i] = c
	}
	return FormatCorrelation(b[:]) + "," + label + "," + truncated + "\n"
}

func TestReadAndSummarize(t *testing.T) {
	in := "client_hello_random,label,skipped_ccs_fin\n" +
		line(1, "A", "TRUE") +
		line(2, "B", "FALSE") +
		line(1, "A", "FALSE")

	rows, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	s := Summarize(rows)
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, 1, s.Truncated)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, []string{"A", "B"}, s.LabelNames())
	assert.InDelta(t, 1.0/3, s.TruncatedFraction(), 1e-9)
}

func TestRead_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty":      "",
		"bad header": "random,label,truncated\n",
		"bad bool":   "client_hello_random,label,skipped_ccs_fin\n" + line(1, "A", "yes"),
		"bad label":  "client_hello_random,label,skipped_ccs_fin\n" + line(1, "\"A B\"", "TRUE"),
		"short":      "client_hello_random,label,skipped_ccs_fin\naa:bb,A,TRUE\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(in))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.TruncatedFraction())
	assert.Empty(t, s.LabelNames())
}
