package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Sternrassler/rmp-harvest/pkg/dedup"
	"github.com/rs/zerolog"
)

// Collector accumulates records across every unit of a run and keeps each
// distinct row once. Two rows are duplicates only if all fields are equal.
//
// When the key set also implements dedup.RowStore (the sqlite backend), the
// kept rows are written next to their keys instead of being held in memory,
// and every read streams them back from the store.
type Collector struct {
	mu         sync.Mutex
	seen       dedup.KeySet
	store      dedup.RowStore
	rows       []Record
	kept       int
	duplicates int
	logger     zerolog.Logger
}

// New creates a collector that dedups against seen.
// A nil seen uses a fresh in-memory key set. A store that already holds
// rows of a resumed run counts them as kept.
func New(seen dedup.KeySet, logger zerolog.Logger) *Collector {
	if seen == nil {
		seen = dedup.NewMemorySet()
	}
	c := &Collector{
		seen:   seen,
		logger: logger,
	}
	if store, ok := seen.(dedup.RowStore); ok {
		c.store = store
		_ = store.Rows(context.Background(), func(dedup.Row) error {
			c.kept++
			return nil
		})
	}
	return c
}

// Add keeps the records that have not been seen before and returns how
// many were kept. On error the records before the failing one stay added.
func (c *Collector) Add(ctx context.Context, records ...Record) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, rec := range records {
		key, err := rec.Key()
		if err != nil {
			return added, fmt.Errorf("record %q: %w", rec.Identity(), err)
		}

		isNew, err := c.add(ctx, key, rec)
		if err != nil {
			return added, fmt.Errorf("dedup record %q: %w", rec.Identity(), err)
		}
		if !isNew {
			c.duplicates++
			continue
		}
		c.kept++
		added++
	}

	if dropped := len(records) - added; dropped > 0 {
		c.logger.Debug().
			Int("added", added).
			Int("duplicates", dropped).
			Msg("Dropped duplicate rows")
	}
	return added, nil
}

func (c *Collector) add(ctx context.Context, key dedup.Key, rec Record) (bool, error) {
	if c.store == nil {
		isNew, err := c.seen.Add(ctx, key)
		if err == nil && isNew {
			c.rows = append(c.rows, rec)
		}
		return isNew, err
	}

	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return false, fmt.Errorf("encode row: %w", err)
	}
	return c.store.AddRow(ctx, key, dedup.Row{
		Kind:     string(rec.Kind),
		Resource: rec.Resource,
		Data:     data,
	})
}

// Len returns the number of distinct rows collected.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kept
}

// Duplicates returns how many rows were dropped as duplicates.
func (c *Collector) Duplicates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duplicates
}

// Each calls fn for every collected row in arrival order and stops at the
// first error fn returns.
func (c *Collector) Each(ctx context.Context, fn func(Record) error) error {
	if c.store != nil {
		return c.store.Rows(ctx, func(row dedup.Row) error {
			rec, err := decodeRow(row)
			if err != nil {
				return err
			}
			return fn(rec)
		})
	}

	c.mu.Lock()
	rows := make([]Record, len(c.rows))
	copy(rows, c.rows)
	c.mu.Unlock()

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Records returns the collected rows in arrival order.
func (c *Collector) Records(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.Each(ctx, func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Table materializes the collected rows. Columns named in lead come first
// when present; the rest follow in sorted order.
func (c *Collector) Table(ctx context.Context, lead ...string) (*Table, error) {
	records, err := c.Records(ctx)
	if err != nil {
		return nil, err
	}
	return NewTable(records, lead...), nil
}

// WriteCSV writes the collected rows as CSV with the column order of
// Table. Rows are streamed in two passes, one for the header and one for
// the rows, so a store-backed collector never loads the whole table.
func (c *Collector) WriteCSV(ctx context.Context, w io.Writer, lead ...string) error {
	present := make(map[string]struct{})
	err := c.Each(ctx, func(rec Record) error {
		addFieldNames(present, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan columns: %w", err)
	}
	columns := tableColumns(present, lead)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	err = c.Each(ctx, func(rec Record) error {
		return cw.Write(tableRow(rec, columns))
	})
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// Close releases the underlying key set.
func (c *Collector) Close() error {
	return c.seen.Close()
}

func decodeRow(row dedup.Row) (Record, error) {
	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(row.Data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Record{}, fmt.Errorf("decode stored row: %w", err)
	}
	return Record{Kind: Kind(row.Kind), Resource: row.Resource, Fields: fields}, nil
}
