package extract

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CSVRecords parses CSV output into one object per data row, keyed by the
// header row. Code fences are stripped first. Cells holding JSON numbers,
// booleans, null, objects or arrays are decoded; everything else stays a
// string. Cells missing from a short row are nil.
func CSVRecords(input string) ([]map[string]any, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(input, fence, ""))
	if cleaned == "" {
		return []map[string]any{}, nil
	}

	r := csv.NewReader(strings.NewReader(cleaned))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	header := rows[0]
	records := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = cellValue(row[i])
			} else {
				record[name] = nil
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func cellValue(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return cell
	}
	if gjson.Parse(trimmed).Type == gjson.String {
		return cell
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return cell
	}
	return v
}
