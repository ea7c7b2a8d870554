package dedup

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "with kind",
			key:  Key{Kind: "entity", Digest: "abc"},
			want: "entity:abc",
		},
		{
			name: "without kind",
			key:  Key{Digest: "abc"},
			want: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDigest_Deterministic(t *testing.T) {
	a := map[string]any{"id": "VGVhY2hlci0x", "firstName": "Ada", "numRatings": json.Number("12")}
	b := map[string]any{"numRatings": json.Number("12"), "firstName": "Ada", "id": "VGVhY2hlci0x"}

	da, err := Digest(a)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	db, err := Digest(b)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}

	if da != db {
		t.Errorf("digests differ for equal rows: %s vs %s", da, db)
	}
	if len(da) != 64 {
		t.Errorf("digest length = %d, want 64", len(da))
	}
}

func TestDigest_FieldDifference(t *testing.T) {
	base := map[string]any{"id": "1", "comment": "good"}
	changed := map[string]any{"id": "1", "comment": "good."}
	extra := map[string]any{"id": "1", "comment": "good", "grade": nil}

	d0, _ := Digest(base)
	d1, _ := Digest(changed)
	d2, _ := Digest(extra)

	if d0 == d1 {
		t.Error("rows differing in one field must not share a digest")
	}
	if d0 == d2 {
		t.Error("rows with an extra null field must not share a digest")
	}
}

func TestNewKey(t *testing.T) {
	key, err := NewKey("sub_record", map[string]any{"id": "1"})
	if err != nil {
		t.Fatalf("NewKey() error = %v", err)
	}
	if !strings.HasPrefix(key.String(), "sub_record:") {
		t.Errorf("key = %q, want sub_record prefix", key.String())
	}

	if _, err := NewKey("entity", map[string]any{"bad": make(chan int)}); err == nil {
		t.Error("NewKey() should fail for unencodable fields")
	}
}
