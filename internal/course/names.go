package course

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldName normalizes a display name for uniqueness checks: trimmed,
// whitespace-collapsed, NFC-normalized and case-folded.
func FoldName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	// Casers are stateful, so one is built per call.
	return cases.Fold().String(norm.NFC.String(name))
}

// SameName reports whether two names collide within a scope.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}
