package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDatasetCSV(t *testing.T) {
	path := writeCSV(t,
		"date,open,high,low,close,volume\n"+
			"2026-01-02,100,101,99,100.5,1000\n"+
			"2026-01-03,100.5,102,100,101.5,1200\n")

	dataset, err := LoadDatasetCSV(path)
	require.NoError(t, err)

	assert.Equal(t, 2, dataset.Len())
	assert.Equal(t, []float64{100, 100.5}, dataset["open"])
	assert.Equal(t, []float64{100.5, 101.5}, dataset["close"])
	_, hasDate := dataset["date"]
	assert.False(t, hasDate, "timestamp column should be skipped")
}

func TestLoadDatasetCSV_ExtraNumericChannel(t *testing.T) {
	path := writeCSV(t,
		"open,high,low,close,volume,vix\n"+
			"100,101,99,100.5,1000,15.2\n")

	dataset, err := LoadDatasetCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{15.2}, dataset["vix"])
}

func TestLoadDatasetCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing channel",
			content: "open,high,low,close\n1,1,1,1\n",
			wantErr: `missing channel "volume"`,
		},
		{
			name:    "no rows",
			content: "open,high,low,close,volume\n",
			wantErr: "no rows",
		},
		{
			name: "bad value mid file",
			content: "open,high,low,close,volume\n" +
				"1,1,1,1,1\n" +
				"1,oops,1,1,1\n",
			wantErr: `column "high"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDatasetCSV(writeCSV(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDatasetCSV_FileMissing(t *testing.T) {
	_, err := LoadDatasetCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
