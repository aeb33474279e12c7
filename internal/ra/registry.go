// Package ra resolves repository URLs to concrete RA session
// implementations through a scheme-keyed registry, so backends register
// themselves from init and the dispatch core stays backend-agnostic.
package ra

import (
	"fmt"
	"sync"

	"github.com/copycore/vcscopy/internal/copyengine"
)

// Constructor builds a fresh, unopened RA session. Deps.RAFactory wraps one
// of these per scheme.
type Constructor func() copyengine.RA

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{}
)

// Register associates a URL scheme (e.g. "file", "git") with a session
// constructor. Backend packages call this from an init() func.
func Register(scheme string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[scheme] = ctor
}

// Lookup returns the constructor registered for scheme, if any.
func Lookup(scheme string) (Constructor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	ctor, ok := registry[scheme]
	return ctor, ok
}

// Schemes returns the set of currently registered schemes, for diagnostics.
func Schemes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	return out
}

// ErrUnknownScheme is returned by Factory when no backend claims a scheme.
type ErrUnknownScheme struct {
	Scheme string
}

func (e *ErrUnknownScheme) Error() string {
	return fmt.Sprintf("ra: no backend registered for scheme %q", e.Scheme)
}
