package sources

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/l7mp/reflow/pkg/data"
)

// parseCSV decodes two-column records: entity id, value. Values are typed by
// shape: integers become numbers, decimal literals floats, true/false
// booleans, everything else strings.
func parseCSV(b []byte) ([]fact, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	facts := make([]fact, 0, len(records))
	for i, rec := range records {
		e, err := strconv.ParseUint(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid entity id %q: %w", i+1, rec[0], err)
		}
		facts = append(facts, fact{E: data.Eid(e), V: scalarValue(rec[1])})
	}
	return facts, nil
}

func scalarValue(s string) data.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return data.Number(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, ".eE") {
		return data.Float(f)
	}
	if s == "true" || s == "false" {
		return data.Bool(s == "true")
	}
	return data.String(s)
}
