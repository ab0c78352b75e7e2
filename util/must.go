package util

import "fmt"

// Must panics if err is non-nil. Intended for package-level
// initialization that cannot legitimately fail at runtime.
func Must[V any](v V, err error) V {
	if err != nil {
		panic(fmt.Sprintf("util.Must: %v", err))
	}

	return v
}
