package mapping

import (
	"fmt"

	"github.com/gyeh/tm2ingest/internal/model"
)

// MappingError reports a code that has no entry in the table.
type MappingError struct {
	Code string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unknown TM2 code %s: no mapping in reference table", e.Code)
}

// Resolve attaches the canonical mapping for c's code. An unknown code is a
// hard error; there is no fuzzy matching.
func Resolve(c *model.Candidate, t *Table) (*model.NormalizedRecord, error) {
	m, ok := t.Lookup(c.TM2Code)
	if !ok {
		return nil, &MappingError{Code: c.TM2Code}
	}
	return &model.NormalizedRecord{Candidate: *c, Mapping: m}, nil
}
