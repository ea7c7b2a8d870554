// Package collector accumulates harvested records, drops exact duplicates
// as they arrive and materializes the result as a table.
//
// Duplicates are judged on the rendered cells, so rows that would print as
// the same CSV line are written once.
package collector

import (
	"fmt"

	"github.com/Sternrassler/rmp-harvest/pkg/dedup"
)

// Kind tags a Record as a top-level entity or a sub-record of one.
type Kind string

const (
	// KindEntity is a top-level entity (a professor listed at a school)
	KindEntity Kind = "entity"

	// KindSubRecord is a record nested under an entity (a review)
	KindSubRecord Kind = "sub_record"
)

// IdentityField is the field every record is expected to carry.
const IdentityField = "id"

// Record is one row returned by the remote service.
type Record struct {
	Kind Kind

	// Resource is the reference of the resource the record was fetched for
	Resource string

	// Fields is the flat field mapping written to the output table
	Fields map[string]any
}

// Identity returns the record's identity field, or "" if it has none.
func (r Record) Identity() string {
	v, ok := r.Fields[IdentityField]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Key returns the dedup key of the record as it renders in the output
// table: two records share a key when every cell matches. A null field, a
// missing field and "" all render as an empty cell and are not told apart.
func (r Record) Key() (dedup.Key, error) {
	cells := make(map[string]any, len(r.Fields))
	for name, v := range r.Fields {
		if cell := FormatValue(v); cell != "" {
			cells[name] = cell
		}
	}
	return dedup.NewKey(string(r.Kind), cells)
}
