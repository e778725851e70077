// Package catalog queries the external test runner's discovery facility for
// the set of executable test identifiers in the configured Tempest
// workspace, and builds the alias lookup used during normalization.
package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var attrPattern = regexp.MustCompile(`\[([^\]]*)\]`)

// Test is the catalog metadata for one canonical test identifier.
type Test struct {
	// Attrs is the raw attribute block from the discovery listing, e.g.
	// "id-36d8c9d1,smoke". Kept verbatim so full identifiers can be
	// reassembled for the runner's include list.
	Attrs string
	// Aliases are alternate identifiers for this test: today the id-
	// UUID attribute, which survives renames across releases.
	Aliases []string
}

// Catalog is the read-only reconciliation view of the live test
// environment: canonical identifiers plus a reverse alias lookup.
type Catalog struct {
	tests   map[string]Test
	reverse map[string][]string // alias -> sorted canonical identifiers
}

// New builds a catalog from canonical test metadata. Alias chains (an alias
// that itself resolves through another alias) are flattened to a fixed
// point; a cycle in the alias graph is an error, since it would make
// resolution non-terminating.
func New(tests map[string]Test) (*Catalog, error) {
	c := &Catalog{
		tests:   tests,
		reverse: make(map[string][]string),
	}

	// First pass: direct alias -> canonical edges.
	direct := make(map[string][]string)
	for id, test := range tests {
		for _, alias := range test.Aliases {
			direct[alias] = append(direct[alias], id)
		}
	}

	// Second pass: flatten transitive chains. An edge target that is not
	// itself a catalog entry resolves through its own edges.
	for alias := range direct {
		canonical, err := resolve(alias, direct, tests, map[string]bool{})
		if err != nil {
			return nil, err
		}
		sort.Strings(canonical)
		c.reverse[alias] = canonical
	}

	return c, nil
}

func resolve(id string, direct map[string][]string, tests map[string]Test, visiting map[string]bool) ([]string, error) {
	if visiting[id] {
		return nil, fmt.Errorf("alias cycle detected at %q", id)
	}
	visiting[id] = true
	defer delete(visiting, id)

	seen := make(map[string]bool)
	var out []string
	for _, target := range direct[id] {
		if _, ok := tests[target]; ok {
			if !seen[target] {
				seen[target] = true
				out = append(out, target)
			}
			continue
		}
		// Target is itself an alias of something else.
		further, err := resolve(target, direct, tests, visiting)
		if err != nil {
			return nil, err
		}
		for _, canonical := range further {
			if !seen[canonical] {
				seen[canonical] = true
				out = append(out, canonical)
			}
		}
	}
	return out, nil
}

// Has reports whether id is a canonical identifier in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.tests[id]
	return ok
}

// Resolve returns the canonical identifiers that claim id as an alias,
// sorted lexicographically. Empty when id is unknown.
func (c *Catalog) Resolve(alias string) []string {
	return c.reverse[alias]
}

// FullID reassembles the complete identifier for a canonical test,
// re-attaching the attribute block the discovery listing carried. For a
// parameterized test the attributes go before the scenario suffix, matching
// the form the runner expects in an include list.
func (c *Catalog) FullID(canonical string) string {
	test, ok := c.tests[canonical]
	if !ok || test.Attrs == "" {
		return canonical
	}
	attrs := "[" + test.Attrs + "]"
	if idx := strings.Index(canonical, "("); idx != -1 {
		return canonical[:idx] + attrs + canonical[idx:]
	}
	return canonical + attrs
}

// Len returns the number of canonical tests.
func (c *Catalog) Len() int {
	return len(c.tests)
}

// IDs returns the sorted canonical identifiers, primarily for diagnostics.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.tests))
	for id := range c.tests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseListing parses discovery output (one full test identifier per line,
// attribute blocks included) into canonical test metadata. Lines that are
// empty or runner chatter are skipped. An id-<uuid> attribute is registered
// both as the alias and in its bare UUID form.
func ParseListing(output string) map[string]Test {
	tests := make(map[string]Test)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !isTestLine(line) {
			continue
		}

		attrs := ""
		if m := attrPattern.FindStringSubmatch(line); m != nil {
			attrs = m[1]
		}
		canonical := attrPattern.ReplaceAllString(line, "")

		var aliases []string
		for _, attr := range strings.Split(attrs, ",") {
			attr = strings.TrimSpace(attr)
			if strings.HasPrefix(attr, "id-") {
				aliases = append(aliases, attr, strings.TrimPrefix(attr, "id-"))
			}
		}
		tests[canonical] = Test{Attrs: attrs, Aliases: aliases}
	}
	return tests
}

func isTestLine(line string) bool {
	if line == "" || line == "ok" || strings.HasPrefix(line, "?") {
		return false
	}
	// Runner summary lines, e.g. "ok 1.204s".
	if strings.HasPrefix(line, "ok ") {
		return false
	}
	return true
}
