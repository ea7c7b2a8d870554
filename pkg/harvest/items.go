package harvest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Input and failed-list column names.
const (
	ColumnID         = "id"
	ColumnNumRatings = "numRatings"
)

// Item is one work item: a resource id and an optional size hint.
type Item struct {
	// ID is a numeric school id or a professor reference
	ID string

	// Hint is the expected record count (0 if unknown)
	Hint int
}

// SchoolRange returns the items for school ids in [start, end).
func SchoolRange(start, end int) ([]Item, error) {
	if end < start {
		return nil, fmt.Errorf("end %d is before start %d", end, start)
	}
	items := make([]Item, 0, end-start)
	for id := start; id < end; id++ {
		items = append(items, Item{ID: strconv.Itoa(id)})
	}
	return items, nil
}

// ReadItems reads a CSV with a header containing an "id" column and an
// optional "numRatings" column. Other columns are ignored.
func ReadItems(r io.Reader) ([]Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idCol, hintCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case ColumnID:
			idCol = i
		case ColumnNumRatings:
			hintCol = i
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("input has no %q column", ColumnID)
	}

	var items []Item
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if idCol >= len(row) || strings.TrimSpace(row[idCol]) == "" {
			continue
		}

		item := Item{ID: strings.TrimSpace(row[idCol])}
		if hintCol >= 0 && hintCol < len(row) {
			if v := strings.TrimSpace(row[hintCol]); v != "" {
				n, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %s %q: %w", line, ColumnNumRatings, v, err)
				}
				item.Hint = int(n)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteItems writes items in the format ReadItems accepts, so a failed list
// can be fed back into a later run.
func WriteItems(w io.Writer, items []Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnID, ColumnNumRatings}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, item := range items {
		if err := cw.Write([]string{item.ID, strconv.Itoa(item.Hint)}); err != nil {
			return fmt.Errorf("write item %s: %w", item.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
