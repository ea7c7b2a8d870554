package harvest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReference(t *testing.T) {
	assert.Equal(t, "U2Nob29sLTI5OA==", EncodeReference(SchoolPrefix, 298))
	assert.Equal(t, "VGVhY2hlci00Mg==", EncodeReference(TeacherPrefix, 42))
}

func TestNormalizeReference(t *testing.T) {
	assert.Equal(t, "VGVhY2hlci03", NormalizeReference(TeacherPrefix, "7"))
	assert.Equal(t, "VGVhY2hlci03", NormalizeReference(TeacherPrefix, " 7 "))
	assert.Equal(t, "VGVhY2hlci00Mg==", NormalizeReference(TeacherPrefix, "VGVhY2hlci00Mg=="))
}

func TestSchoolRange(t *testing.T) {
	items, err := SchoolRange(3, 6)
	require.NoError(t, err)
	assert.Equal(t, []Item{{ID: "3"}, {ID: "4"}, {ID: "5"}}, items)

	items, err = SchoolRange(3, 3)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = SchoolRange(5, 3)
	assert.EqualError(t, err, "end 3 is before start 5")
}

func TestReadItems(t *testing.T) {
	input := "\ufefffirstName,id,numRatings,schoolName\n" +
		"Ada,VGVhY2hlci0x,12,MIT\n" +
		"Alan,VGVhY2hlci0y,3.0,\"Cambridge, UK\"\n" +
		"Nobody,,5,X\n" +
		"Grace,VGVhY2hlci0z,,Yale\n"

	items, err := ReadItems(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Item{
		{ID: "VGVhY2hlci0x", Hint: 12},
		{ID: "VGVhY2hlci0y", Hint: 3},
		{ID: "VGVhY2hlci0z", Hint: 0},
	}, items)
}

func TestReadItems_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		errorMsg string
	}{
		{name: "empty", input: "", errorMsg: "input is empty"},
		{name: "no id column", input: "name,numRatings\nA,1\n", errorMsg: `input has no "id" column`},
		{name: "bad count", input: "id,numRatings\nX,many\n", errorMsg: `line 2: numRatings "many"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadItems(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestWriteItems_FeedsBack(t *testing.T) {
	failed := []Item{{ID: "VGVhY2hlci0x", Hint: 12}, {ID: "17"}}

	var buf bytes.Buffer
	require.NoError(t, WriteItems(&buf, failed))
	assert.Equal(t, "id,numRatings\nVGVhY2hlci0x,12\n17,0\n", buf.String())

	again, err := ReadItems(&buf)
	require.NoError(t, err)
	assert.Equal(t, failed, again)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, errorMsg: "batch_size must be > 0 (got 0)"},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, errorMsg: "workers must be > 0 (got 0)"},
		{name: "zero timeout", mutate: func(c *Config) { c.ReviewTimeout = 0 }, errorMsg: "unit timeouts must be > 0"},
		{name: "zero page size", mutate: func(c *Config) { c.PageSize = 0 }, errorMsg: "page_size must be > 0 (got 0)"},
		{name: "zero max page size", mutate: func(c *Config) { c.MaxPageSize = 0 }, errorMsg: "max_page_size must be > 0 (got 0)"},
		{name: "negative pages", mutate: func(c *Config) { c.MaxPages = -2 }, errorMsg: "max_pages must be >= 0 (got -2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.errorMsg)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1_000_000, cfg.BatchSize)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.ProfessorTimeout)
	assert.Equal(t, 20*time.Second, cfg.ReviewTimeout)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Contains(t, cfg.professorsDocument(), "TeacherSearchPaginationQuery")
	assert.Contains(t, cfg.reviewsDocument(), "RatingsListQuery")

	cfg.ReviewsQuery = "query X($count: Int!, $cursor: String) { a }"
	assert.Equal(t, cfg.ReviewsQuery, cfg.reviewsDocument())
}
