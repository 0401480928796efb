package util

import "sort"

// Contains checks whether an item is in a slice
func Contains[T comparable](s []T, item T) bool {
	for _, v := range s {
		if v == item {
			return true
		}
	}
	return false
}

// SortedKeys returns the keys of a string-keyed map in sorted order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CopyMap returns a shallow copy of a map
func CopyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FromPointer dereferences a pointer, returning the zero value if nil
func FromPointer[T comparable](p *T) T {
	if p == nil {
		return *new(T)
	}
	return *p
}
