package ra

import (
	"strings"

	"github.com/copycore/vcscopy/internal/copyengine"
)

// Factory returns a Deps.RAFactory func bound to url's scheme, for
// cmd/vcscopy to plug into copyengine.Deps. The returned func constructs a
// fresh session each call, matching the documented RAFactory contract: R→WC
// opens a second, independent session for the destination-UUID probe
// alongside its main source session (see r_wc.go).
func Factory(url string) (func() copyengine.RA, error) {
	scheme := SchemeOf(url)
	ctor, ok := Lookup(scheme)
	if !ok {
		return nil, &ErrUnknownScheme{Scheme: scheme}
	}
	return func() copyengine.RA { return ctor() }, nil
}

// SchemeOf extracts the leading "scheme:" component of a repository URL,
// defaulting to "file" for bare filesystem paths.
func SchemeOf(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i]
	}
	return "file"
}
