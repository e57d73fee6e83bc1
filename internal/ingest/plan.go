package ingest

import (
	"errors"
	"sort"

	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/normalize"
	"github.com/gyeh/tm2ingest/internal/validate"
)

// PlanReport is the dry-run view of a batch: what would be submitted and
// what would be rejected, with no store or downstream I/O.
type PlanReport struct {
	Rows int `json:"rows"`
	// Ready rows passed validation and mapping.
	Ready int `json:"ready"`
	// Duplicates are ready rows whose key appeared earlier in the batch.
	Duplicates int `json:"duplicates"`
	// Rejections counts failures by validation rule name, or "mapping".
	Rejections map[string]int `json:"rejections"`
	// UnknownCodes lists the distinct codes missing from the mapping table.
	UnknownCodes []string    `json:"unknown_codes"`
	Keys         []model.Key `json:"keys"`
}

// Plan validates and resolves every row the way RunBatch would.
func Plan(v *validate.Validator, table *mapping.Table, rows []model.RawRecord) PlanReport {
	rep := PlanReport{Rows: len(rows), Rejections: map[string]int{}}
	seen := make(map[model.Key]bool)
	unknown := make(map[string]bool)

	for i := range rows {
		cand, err := v.Validate(&rows[i])
		if err != nil {
			var ve *validate.ValidationError
			if errors.As(err, &ve) {
				rep.Rejections[ve.Rule]++
			}
			continue
		}
		rec, err := mapping.Resolve(cand, table)
		if err != nil {
			rep.Rejections[string(model.StageMapping)]++
			var me *mapping.MappingError
			if errors.As(err, &me) {
				unknown[me.Code] = true
			}
			continue
		}
		rep.Ready++
		key := normalize.DeriveKey(rec)
		if seen[key] {
			rep.Duplicates++
			continue
		}
		seen[key] = true
		rep.Keys = append(rep.Keys, key)
	}

	for code := range unknown {
		rep.UnknownCodes = append(rep.UnknownCodes, code)
	}
	sort.Strings(rep.UnknownCodes)
	return rep
}
