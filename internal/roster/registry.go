package roster

import (
	"sort"
	"strconv"
	"sync"
)

// Registry tracks every username occupied either on the remote system
// (seeded at batch start) or issued during the current batch.
//
// Reserve performs its check-and-mark as one atomic unit under a single
// lock; this is the invariant that prevents duplicate usernames when rows
// are processed in parallel.
type Registry struct {
	mu   sync.Mutex
	used map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{used: make(map[string]bool)}
}

// Seed marks existing usernames as occupied. Intended for pre-loading the
// remote system's account list at batch start; seeding is best-effort and
// an empty seed degrades to "treat unknown as unoccupied".
func (r *Registry) Seed(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if n != "" {
			r.used[n] = true
		}
	}
}

// Occupied reports whether name has been issued or seeded.
func (r *Registry) Occupied(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used[name]
}

// Len returns the number of occupied usernames.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}

// Names returns the occupied usernames in sorted order. Used for diagnostics
// and tests; the hot path never needs it.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.used))
	for n := range r.used {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Reserve returns the first free username derived from base and marks it
// occupied before returning. On collision a numeric suffix is appended
// starting at 2 (base, base2, base3, ...). When maxLen > 0 the candidate is
// kept within maxLen by trimming the base to make room for the suffix.
//
// Termination is guaranteed: the registry is finite, so some suffix is
// always free.
func (r *Registry) Reserve(base string, maxLen int) string {
	if base == "" {
		base = PlaceholderName
	}
	if maxLen > 0 && len(base) > maxLen {
		base = base[:maxLen]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.used[base] {
		r.used[base] = true
		return base
	}

	for suffix := 2; ; suffix++ {
		candidate := base + strconv.Itoa(suffix)
		if maxLen > 0 && len(candidate) > maxLen {
			digits := len(strconv.Itoa(suffix))
			candidate = base[:maxLen-digits] + strconv.Itoa(suffix)
		}
		if !r.used[candidate] {
			r.used[candidate] = true
			return candidate
		}
	}
}
