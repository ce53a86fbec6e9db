// Package names hands out unique kernel interface and namespace names.
//
// Linux caps interface names at 15 characters (IFNAMSIZ minus the NUL
// terminator), so every name, whether user supplied or generated, goes
// through the same length and uniqueness checks before any kernel call
// is attempted.
package names

import (
	"fmt"
	"math/rand"
	"sync"
)

// MaxLen is the kernel interface-name limit.
const MaxLen = 15

const (
	randSuffixLen = 4
	maxRetries    = 64
	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NameTooLongError reports a name exceeding MaxLen. It names the exact
// offending string so callers can tell derived names from supplied ones.
type NameTooLongError struct {
	Name string
}

func (e *NameTooLongError) Error() string {
	return fmt.Sprintf("name %q is %d characters long, exceeding the %d character kernel limit",
		e.Name, len(e.Name), MaxLen)
}

// DuplicateNameError reports a name already present in the registry.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("name %q is already in use", e.Name)
}

// Registry tracks every name handed out during a run. One registry per
// topology; names are unique for its lifetime.
type Registry struct {
	mu            sync.Mutex
	used          map[string]struct{}
	seq           map[string]int
	rng           *rand.Rand
	deterministic bool
}

// NewRegistry returns an empty registry seeded from seed. A fixed seed
// gives reproducible random names across runs.
func NewRegistry(seed int64) *Registry {
	return &Registry{
		used: make(map[string]struct{}),
		seq:  make(map[string]int),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// SetDeterministic disables random name generation. Allocate then
// derives names as "<prefix>-<n>" with a per-prefix counter, and the
// usual length and uniqueness checks still apply.
func (r *Registry) SetDeterministic(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deterministic = on
}

// Reserve registers a caller-supplied name. It fails with
// NameTooLongError or DuplicateNameError; no kernel object may be
// created under a name that was not reserved first.
func (r *Registry) Reserve(name string) error {
	if len(name) > MaxLen {
		return &NameTooLongError{Name: name}
	}
	if name == "" {
		return fmt.Errorf("empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.used[name]; ok {
		return &DuplicateNameError{Name: name}
	}
	r.used[name] = struct{}{}
	return nil
}

// Allocate derives a fresh unique name from prefix. In random mode the
// prefix is extended with a random suffix and redrawn on collision; in
// deterministic mode a per-prefix counter is appended. Pool exhaustion
// is a fatal configuration error.
func (r *Registry) Allocate(prefix string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deterministic {
		for i := 0; i < maxRetries; i++ {
			name := fmt.Sprintf("%s-%d", prefix, r.seq[prefix])
			r.seq[prefix]++
			if len(name) > MaxLen {
				return "", &NameTooLongError{Name: name}
			}
			if _, ok := r.used[name]; !ok {
				r.used[name] = struct{}{}
				return name, nil
			}
		}
		return "", fmt.Errorf("name pool exhausted for prefix %q", prefix)
	}

	// Trim the prefix so the random suffix always fits.
	maxPrefix := MaxLen - randSuffixLen - 1
	if len(prefix) > maxPrefix {
		prefix = prefix[:maxPrefix]
	}
	for i := 0; i < maxRetries; i++ {
		name := prefix + "-" + r.randSuffix()
		if _, ok := r.used[name]; !ok {
			r.used[name] = struct{}{}
			return name, nil
		}
	}
	return "", fmt.Errorf("name pool exhausted for prefix %q", prefix)
}

// Free returns whether a name is unused, without reserving it.
func (r *Registry) Free(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.used[name]
	return !ok
}

func (r *Registry) randSuffix() string {
	b := make([]byte, randSuffixLen)
	for i := range b {
		b[i] = alphabet[r.rng.Intn(len(alphabet))]
	}
	return string(b)
}
