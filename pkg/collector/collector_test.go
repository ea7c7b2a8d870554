package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/rmp-harvest/pkg/dedup"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func review(id, comment string) Record {
	return Record{
		Kind:     KindSubRecord,
		Resource: "VGVhY2hlci0x",
		Fields:   map[string]any{"id": id, "comment": comment, "profId": "VGVhY2hlci0x"},
	}
}

func tableRows(t *testing.T, c *Collector, lead ...string) [][]string {
	t.Helper()
	table, err := c.Table(context.Background(), lead...)
	require.NoError(t, err)
	return table.Rows
}

type failingSet struct{ dedup.KeySet }

func (failingSet) Add(context.Context, dedup.Key) (bool, error) {
	return false, errors.New("backend down")
}

func TestRecord_Identity(t *testing.T) {
	assert.Equal(t, "abc", Record{Fields: map[string]any{"id": "abc"}}.Identity())
	assert.Equal(t, "12", Record{Fields: map[string]any{"id": json.Number("12")}}.Identity())
	assert.Equal(t, "", Record{Fields: map[string]any{"name": "x"}}.Identity())
	assert.Equal(t, "", Record{Fields: map[string]any{"id": nil}}.Identity())
}

func TestRecord_KeyDependsOnKind(t *testing.T) {
	fields := map[string]any{"id": "1"}
	k1, err := Record{Kind: KindEntity, Fields: fields}.Key()
	require.NoError(t, err)
	k2, err := Record{Kind: KindSubRecord, Fields: fields}.Key()
	require.NoError(t, err)

	assert.Equal(t, k1.Digest, k2.Digest)
	assert.NotEqual(t, k1.String(), k2.String())
}

func TestCollector_DropsExactDuplicates(t *testing.T) {
	c := New(nil, zerolog.Nop())
	ctx := context.Background()

	added, err := c.Add(ctx, review("1", "good"), review("2", "bad"), review("1", "good"))
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// Same id, one differing field: both rows are kept.
	added, err = c.Add(ctx, review("1", "good!"))
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 1, c.Duplicates())
}

func TestCollector_IdempotentDedup(t *testing.T) {
	records := []Record{review("1", "a"), review("2", "b"), review("1", "a"), review("3", "c")}

	once := New(nil, zerolog.Nop())
	_, err := once.Add(context.Background(), records...)
	require.NoError(t, err)

	twice := New(nil, zerolog.Nop())
	_, err = twice.Add(context.Background(), records...)
	require.NoError(t, err)
	_, err = twice.Add(context.Background(), records...)
	require.NoError(t, err)

	assert.Equal(t, once.Len(), twice.Len())
	assert.Equal(t, tableRows(t, once), tableRows(t, twice))
}

func TestCollector_DedupMatchesFinalPass(t *testing.T) {
	batches := [][]Record{
		{review("1", "a"), review("2", "b")},
		{review("2", "b"), review("3", "c")},
		{review("1", "a")},
	}

	incremental := New(nil, zerolog.Nop())
	var all []Record
	for _, batch := range batches {
		_, err := incremental.Add(context.Background(), batch...)
		require.NoError(t, err)
		all = append(all, batch...)
	}

	final := New(nil, zerolog.Nop())
	_, err := final.Add(context.Background(), all...)
	require.NoError(t, err)

	assert.ElementsMatch(t, tableRows(t, final), tableRows(t, incremental))
}

func TestCollector_KeySetError(t *testing.T) {
	c := New(failingSet{}, zerolog.Nop())

	added, err := c.Add(context.Background(), review("1", "a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Zero(t, added)
	assert.Zero(t, c.Len())
}

func TestCollector_SQLiteBackend(t *testing.T) {
	set, err := dedup.OpenSQLiteSet(":memory:", "run")
	require.NoError(t, err)

	c := New(set, zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	_, err = c.Add(ctx, review("1", "a"), review("1", "a"), review("2", "b"))
	require.NoError(t, err)
	_, err = c.Add(ctx, Record{
		Kind:     KindEntity,
		Resource: "U2Nob29sLTE=",
		Fields:   map[string]any{"id": "VGVhY2hlci0x", "avgRating": json.Number("4.50")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Empty(t, c.rows, "rows live in the store")

	records, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, KindSubRecord, records[0].Kind)
	assert.Equal(t, "VGVhY2hlci0x", records[0].Resource)
	assert.Equal(t, "2", records[1].Identity())
	assert.Equal(t, json.Number("4.50"), records[2].Fields["avgRating"])

	var buf bytes.Buffer
	require.NoError(t, c.WriteCSV(ctx, &buf, "id"))
	assert.Equal(t, "id,avgRating,comment,profId\n"+
		"1,,a,VGVhY2hlci0x\n"+
		"2,,b,VGVhY2hlci0x\n"+
		"VGVhY2hlci0x,4.50,,\n", buf.String())
}

func TestCollector_ResumesStoredRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.db")
	ctx := context.Background()

	set, err := dedup.OpenSQLiteSet(path, "run-1")
	require.NoError(t, err)
	first := New(set, zerolog.Nop())
	_, err = first.Add(ctx, review("1", "a"), review("2", "b"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	set, err = dedup.OpenSQLiteSet(path, "run-1")
	require.NoError(t, err)
	resumed := New(set, zerolog.Nop())
	defer resumed.Close()
	assert.Equal(t, 2, resumed.Len())

	added, err := resumed.Add(ctx, review("2", "b"), review("3", "c"))
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Len(t, tableRows(t, resumed), 3)
}

func TestCollector_EmptyCellsShareKey(t *testing.T) {
	c := New(nil, zerolog.Nop())

	added, err := c.Add(context.Background(),
		Record{Kind: KindEntity, Fields: map[string]any{"id": "1", "department": nil}},
		Record{Kind: KindEntity, Fields: map[string]any{"id": "1"}},
		Record{Kind: KindEntity, Fields: map[string]any{"id": "1", "department": ""}},
		Record{Kind: KindEntity, Fields: map[string]any{"id": "1", "department": "Math"}},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, added, "null, missing and empty print the same cell")
	assert.Equal(t, [][]string{{"1", ""}, {"1", "Math"}}, tableRows(t, c, "id", "department"))
}

func TestTable_Columns(t *testing.T) {
	records := []Record{
		{Fields: map[string]any{"lastName": "Lovelace", "id": "1", "firstName": "Ada"}},
		{Fields: map[string]any{"id": "2", "schoolName": "MIT"}},
	}

	table := NewTable(records, "id", "missing", "firstName", "id")
	assert.Equal(t, []string{"id", "firstName", "lastName", "schoolName"}, table.Columns)
	assert.Equal(t, [][]string{
		{"1", "Ada", "Lovelace", ""},
		{"2", "", "", "MIT"},
	}, table.Rows)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: ""},
		{name: "string", value: "x", want: "x"},
		{name: "number", value: json.Number("4.50"), want: "4.50"},
		{name: "bool", value: true, want: "true"},
		{name: "int", value: 3, want: "3"},
		{name: "int64", value: int64(7), want: "7"},
		{name: "float", value: 2.5, want: "2.5"},
		{name: "list", value: []any{"a", "b"}, want: `["a","b"]`},
		{name: "object", value: map[string]any{"b": 1, "a": 2}, want: `{"a":2,"b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.value))
		})
	}
}

func TestTable_WriteCSV(t *testing.T) {
	table := NewTable([]Record{
		{Fields: map[string]any{"id": "1", "comment": "says \"hi\", twice"}},
	}, "id")

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf))
	assert.Equal(t, "id,comment\n1,\"says \"\"hi\"\", twice\"\n", buf.String())
}
