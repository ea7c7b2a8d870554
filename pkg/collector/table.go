package collector

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Table is the tabular view of a record set: the union of all field names
// as columns and one row per record.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a table from records. Missing fields render as empty cells.
func NewTable(records []Record, lead ...string) *Table {
	present := make(map[string]struct{})
	for _, rec := range records {
		addFieldNames(present, rec)
	}

	columns := tableColumns(present, lead)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, tableRow(rec, columns))
	}

	return &Table{Columns: columns, Rows: rows}
}

func addFieldNames(present map[string]struct{}, rec Record) {
	for name := range rec.Fields {
		present[name] = struct{}{}
	}
}

// tableColumns orders the present field names: lead names first, the rest sorted.
func tableColumns(present map[string]struct{}, lead []string) []string {
	columns := make([]string, 0, len(present))
	placed := make(map[string]struct{}, len(lead))
	for _, name := range lead {
		if _, ok := present[name]; !ok {
			continue
		}
		if _, dup := placed[name]; dup {
			continue
		}
		placed[name] = struct{}{}
		columns = append(columns, name)
	}
	rest := make([]string, 0, len(present)-len(columns))
	for name := range present {
		if _, ok := placed[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

func tableRow(rec Record, columns []string) []string {
	row := make([]string, len(columns))
	for i, name := range columns {
		row[i] = FormatValue(rec.Fields[name])
	}
	return row
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// FormatValue renders one field value as a cell.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
