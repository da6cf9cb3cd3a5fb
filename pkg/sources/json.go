package sources

import (
	"encoding/json"

	"github.com/l7mp/reflow/pkg/data"
)

type jsonFact struct {
	E uint64     `json:"e"`
	V data.Value `json:"v"`
}

// parseJSON decodes an array of {"e": ..., "v": ...} objects, the value in
// the tagged wire encoding.
func parseJSON(b []byte) ([]fact, error) {
	var rows []jsonFact
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, err
	}
	facts := make([]fact, 0, len(rows))
	for _, row := range rows {
		facts = append(facts, fact{E: data.Eid(row.E), V: row.V})
	}
	return facts, nil
}
