package ra

import "sort"

// PathDriver is the production implementation of copyengine.PathDriver: it
// sorts paths by ascending directory depth (shallowest first), then
// lexically within a depth,
// so a parent directory's add is always driven before any child path that
// depends on it being open.
type PathDriver struct{}

func (PathDriver) Drive(paths []string, cb func(path string) error) error {
	ordered := append([]string(nil), paths...)
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := depth(ordered[i]), depth(ordered[j])
		if di != dj {
			return di < dj
		}
		return ordered[i] < ordered[j]
	})
	for _, p := range ordered {
		if err := cb(p); err != nil {
			return err
		}
	}
	return nil
}

func depth(p string) int {
	n := 0
	for _, r := range p {
		if r == '/' {
			n++
		}
	}
	return n
}
