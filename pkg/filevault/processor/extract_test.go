package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCSV(t *testing.T) {
	csv := "name,age,city\nalice,30,berlin\nbob,25,paris\n"

	res, err := Extract([]byte(csv), "text/csv", ExtractOptions{})
	require.NoError(t, err)

	assert.Equal(t, "name age city alice 30 berlin bob 25 paris", res.Text)
	assert.Equal(t, 2, res.Metadata["row_count"])
	assert.Equal(t, 3, res.Metadata["column_count"])
}

func TestExtractCSVWithCharsetParam(t *testing.T) {
	res, err := Extract([]byte("a,b\n1,2\n"), "text/csv; charset=utf-8", ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a b 1 2", res.Text)
}

func TestExtractPlainText(t *testing.T) {
	res, err := Extract([]byte("hello\nworld"), "text/plain", ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", res.Text)
	assert.Equal(t, 2, res.Metadata["line_count"])
	assert.False(t, res.Truncated)
}

func TestExtractTruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", 500)

	res, err := Extract([]byte(long), "text/plain", ExtractOptions{MaxChars: 100})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Text, truncationMarker))
	assert.Len(t, strings.TrimSuffix(res.Text, truncationMarker), 100)
}

func TestExtractUnsupportedTypeIsBestEffort(t *testing.T) {
	res, err := Extract([]byte{0x00, 0x01, 0x02}, "application/octet-stream", ExtractOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
}

func TestExtractMalformedPDFIsBestEffort(t *testing.T) {
	res, err := Extract([]byte("%PDF-1.4 garbage"), "application/pdf", ExtractOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
}

func TestExtractDeterministic(t *testing.T) {
	csv := []byte("x,y\n1,2\n3,4\n")

	first, err := Extract(csv, "text/csv", ExtractOptions{})
	require.NoError(t, err)
	second, err := Extract(csv, "text/csv", ExtractOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Metadata, second.Metadata)
}
