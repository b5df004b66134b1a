package testdata

import "strings"

// Resolve walks root along a dot-separated key path and returns the value it
// ends on. It reports false as soon as a segment is missing or the current
// value is not a JSON object. An empty path, or a path with an empty segment
// such as "a..b", never resolves.
func Resolve(root any, keyPath string) (any, bool) {
	if keyPath == "" {
		return nil, false
	}

	cursor := root
	for _, segment := range strings.Split(keyPath, ".") {
		if segment == "" {
			return nil, false
		}
		obj, ok := cursor.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[segment]
		if !ok {
			return nil, false
		}
		cursor = next
	}
	return cursor, true
}
