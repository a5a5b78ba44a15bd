package contextmgr

import "context"

// Section is a named, priority-ordered contribution to the system preamble
// from a plugin (spec.md §3's "Plugin-produced section"). Priority 0 means
// the section is never compacted: CompactionContext.CompactPlugin refuses
// it. Which other sections get compacted, and in what order, is up to the
// Strategy; the built-in RecencyStrategy compacts no section at all, it
// only drops conversation messages. cmd/hector's todoSection registers at
// a non-zero priority, so a strategy may compact it.
type Section interface {
	// Name uniquely identifies this section within the manager's registry.
	Name() string

	// Priority orders sections within the preamble; lower sorts first.
	// Priority 0 sections are never compacted (e.g. the persistent
	// instructions section).
	Priority() int

	// Compactable reports whether Compact may be called on this section.
	Compactable() bool

	// ProduceContent renders this section's current text contribution.
	ProduceContent(ctx context.Context) (string, error)

	// TokenSize returns this section's current token cost. Implementations
	// typically memoize ProduceContent's output and pass it through an
	// Estimator; the manager does not assume a particular caching strategy.
	TokenSize() int

	// Compact reduces this section's footprint to at most target tokens,
	// returning the number of tokens freed.
	Compact(target int) (freed int, err error)

	// Serialize/Restore participate in session persistence (spec.md §3's
	// Session snapshot `plugin-states` map).
	Serialize() ([]byte, error)
	Restore(data []byte) error
}

// sectionsByPriority sorts a slice of sections by ascending priority,
// stable on name for deterministic ordering.
func sectionsByPriority(sections []Section) []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if a.Priority() < b.Priority() || (a.Priority() == b.Priority() && a.Name() <= b.Name()) {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
