package util

import (
	"strings"

	"github.com/google/uuid"
)

const runIDPrefix = "run_"

// NewRunID returns a fresh run id such as "run_5f0c6a1e9b2d4c7f8a3e1d2c4b5a6978".
func NewRunID() string {
	return runIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidRunID reports whether id has the shape NewRunID produces. Run ids end
// up in paths and object keys, so anything else is rejected at the edge.
func ValidRunID(id string) bool {
	rest, ok := strings.CutPrefix(id, runIDPrefix)
	if !ok || len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
