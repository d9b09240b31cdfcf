package util

import (
	"maps"
	"slices"
)

// Set holds distinct comparable values
type Set[K comparable] map[K]struct{}

// SetOf builds a Set from keys
func SetOf[K comparable](keys ...K) Set[K] {
	res := make(Set[K], len(keys))
	for _, k := range keys {
		res.Add(k)
	}
	return res
}

func (s Set[K]) Add(k K) {
	s[k] = struct{}{}
}

func (s Set[K]) Remove(k K) {
	delete(s, k)
}

func (s Set[K]) Contains(k K) bool {
	_, ok := s[k]
	return ok
}

// Items returns a snapshot of the members in no particular order
func (s Set[K]) Items() []K {
	return slices.Collect(maps.Keys(s))
}

// Diff returns the elements of keys that are not in other, preserving
// their order
func Diff[K comparable](keys []K, other []K) []K {
	exclude := SetOf(other...)
	var res []K
	for _, k := range keys {
		if !exclude.Contains(k) {
			res = append(res, k)
		}
	}
	return res
}

// Unique returns keys with duplicates removed, keeping first occurrences in
// order
func Unique[K comparable](keys []K) []K {
	seen := make(Set[K], len(keys))
	res := make([]K, 0, len(keys))
	for _, k := range keys {
		if seen.Contains(k) {
			continue
		}
		seen.Add(k)
		res = append(res, k)
	}
	return res
}
