// Package normalize reconciles guideline entries against a discovered test
// catalog, producing the set of tests to run plus diagnostics for entries
// that could not be matched.
package normalize

import (
	"log/slog"
	"sort"

	"github.com/jcmdln/refstack-client/catalog"
	"github.com/jcmdln/refstack-client/guideline"
)

// Ambiguity records a guideline entry that matched more than one catalog
// test. The lexicographically smallest candidate is chosen so repeated runs
// select the same test.
type Ambiguity struct {
	ID         string
	Candidates []string
	Chosen     string
}

// Result is the outcome of normalizing a guideline against a catalog. Every
// input entry lands in exactly one of Selection or Unresolved (flagged
// entries excluded up front when flagged filtering is on).
type Result struct {
	Selection   []string
	Unresolved  []string
	Ambiguities []Ambiguity
}

// Normalizer matches guideline entries to catalog tests.
type Normalizer struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{log: log}
}

// Normalize maps each guideline entry to a canonical catalog identifier.
// Entries are processed in identifier order, so the same inputs always
// produce the same Result. Flagged entries are skipped unless includeFlagged
// is set. An identifier present verbatim in the catalog resolves to itself;
// only absent identifiers are resolved through the catalog's alias map and
// the aliases the entry itself declares. Zero matches puts the entry in
// Unresolved; multiple matches select the lexicographically smallest and
// record an Ambiguity.
func (n *Normalizer) Normalize(entries []guideline.Entry, cat *catalog.Catalog, includeFlagged bool) Result {
	sorted := make([]guideline.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var res Result
	selected := make(map[string]bool)

	for _, entry := range sorted {
		if entry.Flagged && !includeFlagged {
			n.log.Debug("skipping flagged test", "id", entry.ID)
			continue
		}

		candidates := n.candidates(entry, cat)
		switch len(candidates) {
		case 0:
			res.Unresolved = append(res.Unresolved, entry.ID)
			continue
		case 1:
			// Nothing to report.
		default:
			chosen := candidates[0]
			res.Ambiguities = append(res.Ambiguities, Ambiguity{
				ID:         entry.ID,
				Candidates: candidates,
				Chosen:     chosen,
			})
			n.log.Warn("guideline entry matches multiple tests",
				"id", entry.ID, "candidates", len(candidates), "chosen", chosen)
		}

		canonical := candidates[0]
		if !selected[canonical] {
			selected[canonical] = true
			res.Selection = append(res.Selection, canonical)
		}
	}

	sort.Strings(res.Selection)
	sort.Strings(res.Unresolved)
	return res
}

// candidates returns the sorted, deduplicated canonical tests an entry could
// refer to. A verbatim catalog match always wins outright; alias lookup only
// happens when the identifier is absent from the catalog.
func (n *Normalizer) candidates(entry guideline.Entry, cat *catalog.Catalog) []string {
	if cat.Has(entry.ID) {
		return []string{entry.ID}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, canonical := range cat.Resolve(entry.ID) {
		add(canonical)
	}
	// Aliases the guideline itself declares for this entry. A declared
	// alias counts when it names a live test or resolves through the
	// catalog's own alias map.
	for _, alias := range entry.Aliases {
		if cat.Has(alias) {
			add(alias)
		}
		for _, canonical := range cat.Resolve(alias) {
			add(canonical)
		}
	}

	sort.Strings(out)
	return out
}
