package gather

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// ParseSymbols splits a comma-separated list, upper-cases and dedupes it,
// keeping first-seen order.
func ParseSymbols(list string) []string {
	return dedupe(strings.Split(list, ","))
}

// LoadCSVSymbols reads the first column of a CSV file with a header row.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) > 0 {
			col = append(col, row[0])
		}
	}
	return dedupe(col), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
