// Package routing classifies mount-relative paths as belonging to the
// default or alternate backend of a union filesystem, by exact
// component-prefix match against a small fixed table.
package routing

import "strings"

const separator = "/"

// Backend identifies which backing directory a path resolves to.
type Backend int

const (
	Default Backend = iota
	Alternate
)

func (b Backend) String() string {
	if b == Alternate {
		return "alternate"
	}
	return "default"
}

// Table is an immutable, ordered list of alternate-path prefixes. Entries
// are never empty and never begin or end with the path separator.
type Table struct {
	entries []string
}

// NewTable validates and builds a routing table from raw alternate paths.
// It rejects any entry that is empty or begins/ends with the separator,
// returning the offending entry so the caller can name it in a diagnostic.
func NewTable(paths []string) (*Table, error) {
	entries := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := validateEntry(p); err != nil {
			return nil, err
		}
		entries = append(entries, p)
	}
	return &Table{entries: entries}, nil
}

func validateEntry(p string) error {
	if p == "" {
		return &InvalidEntryError{Entry: p, Reason: "empty"}
	}
	if strings.HasPrefix(p, separator) {
		return &InvalidEntryError{Entry: p, Reason: "begins with " + separator}
	}
	if strings.HasSuffix(p, separator) {
		return &InvalidEntryError{Entry: p, Reason: "ends with " + separator}
	}
	return nil
}

// InvalidEntryError names the offending routing-table entry.
type InvalidEntryError struct {
	Entry  string
	Reason string
}

func (e *InvalidEntryError) Error() string {
	return "invalid alternate path " + quote(e.Entry) + ": " + e.Reason
}

func quote(s string) string { return "\"" + s + "\"" }

// Classify decides whether p, a path relative to the mount root with no
// leading separator, routes to the alternate or default backend.
//
// p is alternate iff some table entry E is a prefix of p and either p has
// exactly E's length or the byte following E in p is the path separator —
// exact-component-prefix matching, never a bare string prefix.
func (t *Table) Classify(p string) Backend {
	for _, e := range t.entries {
		if matchesEntry(p, e) {
			return Alternate
		}
	}
	return Default
}

func matchesEntry(p, e string) bool {
	if !strings.HasPrefix(p, e) {
		return false
	}
	if len(p) == len(e) {
		return true
	}
	return p[len(e)] == separator[0]
}

// Entries returns the table's entries in the order supplied at construction.
func (t *Table) Entries() []string {
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}

// StripLeadingSeparator implements the mount-point path convention: a
// leading separator is removed, and a bare root path becomes ".", the
// current-directory token expected by the *at-style syscalls.
func StripLeadingSeparator(p string) string {
	p = strings.TrimPrefix(p, separator)
	if p == "" {
		return "."
	}
	return p
}
