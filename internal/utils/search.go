// Package utils holds small generic helpers shared by the domain packages.
package utils

import "fmt"

// FindExactlyOne returns the single item matching pred.
//
// ok is false when nothing matches. More than one match means an invariant
// was broken somewhere (e.g. two sessions sharing a code) and is reported as
// an error.
func FindExactlyOne[T any](items []T, pred func(T) bool) (T, bool, error) {
	var found T
	n := 0
	for _, it := range items {
		if pred(it) {
			if n == 0 {
				found = it
			}
			n++
		}
	}
	switch n {
	case 0:
		var zero T
		return zero, false, nil
	case 1:
		return found, true, nil
	default:
		var zero T
		return zero, false, fmt.Errorf("must be zero or one of this thing, or it's a bug. We found a size of %d", n)
	}
}

// FindExactlyOneOr is FindExactlyOne with fallback providing the value when
// nothing matches.
func FindExactlyOneOr[T any](items []T, pred func(T) bool, fallback func() T) (T, error) {
	v, ok, err := FindExactlyOne(items, pred)
	if err != nil {
		return v, err
	}
	if !ok {
		return fallback(), nil
	}
	return v, nil
}
