package conflict

import "calrecon/internal/model"

// unionFind over dense indices.
type unionFind struct {
	parent []int
	sizes  []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), sizes: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.sizes[i] = 1
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.sizes[ra] < u.sizes[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.sizes[ra] += u.sizes[rb]
}

func (u *unionFind) size(i int) int {
	return u.sizes[u.find(i)]
}

// LinkComponents answers transitive connectivity over stored calendar links.
type LinkComponents struct {
	index map[string]int
	uf    *unionFind
}

// Components indexes links so Connected is cheap.
func Components(links []model.CalendarLink) *LinkComponents {
	index := make(map[string]int)
	for _, l := range links {
		for _, id := range []string{l.EventIDLow, l.EventIDHigh} {
			if _, ok := index[id]; !ok {
				index[id] = len(index)
			}
		}
	}
	uf := newUnionFind(len(index))
	for _, l := range links {
		uf.union(index[l.EventIDLow], index[l.EventIDHigh])
	}
	return &LinkComponents{index: index, uf: uf}
}

// Connected reports whether a and b are linked directly or transitively.
func (c *LinkComponents) Connected(a, b string) bool {
	ia, okA := c.index[a]
	ib, okB := c.index[b]
	if !okA || !okB {
		return false
	}
	return c.uf.find(ia) == c.uf.find(ib)
}

// Scope restricts a conflict set to records touching any listed id. An empty
// scope matches everything.
type Scope struct {
	EventIDs       []string `json:"event_ids,omitempty"`
	ReservationIDs []string `json:"reservation_ids,omitempty"`
}

func (s Scope) Empty() bool {
	return len(s.EventIDs) == 0 && len(s.ReservationIDs) == 0
}

// Touching keeps the records whose participants intersect scope.
func Touching(records []model.ConflictRecord, scope Scope) []model.ConflictRecord {
	if scope.Empty() {
		return records
	}
	events := toSet(scope.EventIDs)
	reservations := toSet(scope.ReservationIDs)

	out := make([]model.ConflictRecord, 0, len(records))
	for _, r := range records {
		if anyIn(r.Events, events) || anyIn(r.Reservations, reservations) {
			out = append(out, r)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func anyIn(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
