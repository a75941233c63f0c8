package strategy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadDatasetCSV reads a market data frame from a CSV file. The header row
// names the channels; every base channel must be present. Non-numeric
// columns such as timestamps are skipped.
func LoadDatasetCSV(path string) (Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}

	names := make([]string, len(header))
	for i, name := range header {
		names[i] = strings.ToLower(strings.TrimSpace(name))
	}

	dataset := make(Dataset, len(names))
	numeric := make([]bool, len(names))
	for i := range names {
		numeric[i] = true
	}

	row := 1
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read dataset row %d: %w", row, err)
		}
		for i, field := range record {
			if i >= len(names) || !numeric[i] {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				// First row decides which columns are numeric.
				if row == 1 {
					numeric[i] = false
					delete(dataset, names[i])
					continue
				}
				return nil, fmt.Errorf("dataset row %d column %q: %w", row, names[i], err)
			}
			dataset[names[i]] = append(dataset[names[i]], value)
		}
		row++
	}

	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset %s has no rows", path)
	}
	for _, ch := range BaseChannels {
		if _, ok := dataset[ch]; !ok {
			return nil, fmt.Errorf("dataset %s missing channel %q", path, ch)
		}
	}
	return dataset, nil
}
