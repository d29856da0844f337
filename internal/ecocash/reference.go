package ecocash

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateReference produces a transaction reference unique across
// concurrent callers: a random UUID v4, optionally prefixed with a
// lowercased label joined by a hyphen (e.g. "wc-1042-...") for readability
// in the merchant dashboard. No coordination, network or disk involved.
func GenerateReference(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return strings.ToLower(prefix) + "-" + id
}
