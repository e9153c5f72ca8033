package models

// DirectScope is the reserved ScopeId meaning "a user-to-user balance not
// tied to any group" (spec.md §3).
const DirectScope = "DIRECT"

// DirectLockName returns the canonical lock name protecting the unordered
// pair {a, b} under the DIRECT pseudo-scope. It sorts the pair so that
// A paying for B and B paying for A contend for the same lock rather than
// each locking only their own name (spec.md §4.4).
func DirectLockName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "direct:" + a + ":" + b
}

// GroupLockName returns the lock name used for a group-scope mutation.
func GroupLockName(groupID string) string {
	return "scope:" + groupID
}
