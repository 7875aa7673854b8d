package internal

import (
	"cmp"
	"slices"
	"strings"
)

// sortedKeys returns the keys of m in natural order.
// Go maps are unordered; schema properties and value maps are always
// walked through this so that encoded output is deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareNatural)
	return keys
}

// compareNatural orders strings by their "_"-separated segments, comparing
// numeric segments numerically: "2" < "10" and "10_2" < "10_10".
func compareNatural(a, b string) int {
	for a != "" || b != "" {
		var segA, segB string
		segA, a = nextSegment(a)
		segB, b = nextSegment(b)
		if c := compareSegment(segA, segB); c != 0 {
			return c
		}
	}
	return 0
}

func nextSegment(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func compareSegment(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}

	numA, numB := isDigits(a), isDigits(b)
	switch {
	case numA && numB:
		ta, tb := trimLeadingZeros(a), trimLeadingZeros(b)
		if len(ta) != len(tb) {
			return cmp.Compare(len(ta), len(tb))
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	case numA:
		return -1
	case numB:
		return 1
	}
	return strings.Compare(a, b)
}

func trimLeadingZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}
