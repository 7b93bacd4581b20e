package linkgraph

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// UniqueColor derives a stable "#rrggbb" color from an event id. The result
// never equals reserved, so an ungrouped entry cannot turn into an info entry.
func UniqueColor(id, reserved string) string {
	return distinctColors([]string{id}, reserved, nil)[id]
}

// distinctColors assigns every id its UniqueColor unless that color is
// already taken, in which case the seed is extended until it is free. Ids are
// handled in sorted order so the result only depends on the set of ids.
func distinctColors(ids []string, reserved string, taken map[string]struct{}) map[string]string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	used := make(map[string]struct{}, len(taken)+len(ids))
	for c := range taken {
		used[strings.ToLower(c)] = struct{}{}
	}
	out := make(map[string]string, len(ids))
	for _, id := range sorted {
		if _, done := out[id]; done {
			continue
		}
		seed := id
		for {
			c := hashColor(seed)
			_, dup := used[c]
			if !dup && !strings.EqualFold(c, reserved) {
				out[id] = c
				used[c] = struct{}{}
				break
			}
			seed += "#"
		}
	}
	return out
}

func hashColor(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("#%02x%02x%02x", sum[0], sum[1], sum[2])
}
