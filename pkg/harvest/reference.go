package harvest

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Reference prefixes of the service's global ids.
const (
	SchoolPrefix  = "School"
	TeacherPrefix = "Teacher"
)

// EncodeReference returns the global id of a numeric id: base64("<prefix>-<id>").
func EncodeReference(prefix string, id int) string {
	return base64.StdEncoding.EncodeToString([]byte(prefix + "-" + strconv.Itoa(id)))
}

// NormalizeReference accepts either a global id or a bare number and
// returns the global id, encoding numbers with prefix.
func NormalizeReference(prefix, id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.Atoi(id); err == nil {
		return EncodeReference(prefix, n)
	}
	return id
}
