package utils

import (
	"strings"
)

// Dedup trims trailing slashes and drops empty and repeated entries, keeping order.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// SplitList splits a comma separated list and dedups it.
func SplitList(s string) []string {
	return Dedup(strings.Split(s, ","))
}
