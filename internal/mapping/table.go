// Package mapping holds the reference table of ICD-11 TM2 codes and resolves
// validated candidates against it.
package mapping

import (
	"fmt"
	"sort"

	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/normalize"
)

// Table is the canonical code mapping, keyed by normalized code. It is built
// once and never modified, so concurrent readers need no locking.
type Table struct {
	byCode map[string]model.CodeMapping
}

// NewTable indexes entries by normalized code. Codes must be non-empty and
// unique after normalization.
func NewTable(entries []model.CodeMapping) (*Table, error) {
	byCode := make(map[string]model.CodeMapping, len(entries))
	for i, e := range entries {
		code := normalize.NormalizeCode(e.Code)
		if code == "" {
			return nil, fmt.Errorf("mapping entry %d: empty code", i)
		}
		if e.Title == "" {
			return nil, fmt.Errorf("mapping %s: empty title", code)
		}
		if _, dup := byCode[code]; dup {
			return nil, fmt.Errorf("mapping %s: duplicate code", code)
		}
		e.Code = code
		byCode[code] = e
	}
	return &Table{byCode: byCode}, nil
}

// Lookup returns the mapping for code, which is trimmed and case-normalized.
func (t *Table) Lookup(code string) (model.CodeMapping, bool) {
	m, ok := t.byCode[normalize.NormalizeCode(code)]
	return m, ok
}

// Len returns the number of codes in the table.
func (t *Table) Len() int {
	return len(t.byCode)
}

// Entries returns a copy of every mapping, ordered by code.
func (t *Table) Entries() []model.CodeMapping {
	out := make([]model.CodeMapping, 0, len(t.byCode))
	for _, m := range t.byCode {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
