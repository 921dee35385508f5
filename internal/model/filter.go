package model

import "strings"

// Filter is a conjunction applied by list_containers: every non-zero field
// narrows the result set further.
type Filter struct {
	Status      *StatusKind
	Labels      map[string]string
	NameSubstr  string
	CreatedSince int64
	CreatedUntil int64
	Limit       int
}

// Match reports whether m satisfies every clause of f.
func (f Filter) Match(m ContainerMeta) bool {
	if f.Status != nil && m.Status.Kind != *f.Status {
		return false
	}
	for k, v := range f.Labels {
		if m.Labels[k] != v {
			return false
		}
	}
	if f.NameSubstr != "" && !strings.Contains(m.Name, f.NameSubstr) {
		return false
	}
	if f.CreatedSince != 0 && m.CreatedAt < f.CreatedSince {
		return false
	}
	if f.CreatedUntil != 0 && m.CreatedAt > f.CreatedUntil {
		return false
	}
	return true
}

// Apply filters and then truncates to Limit, if set.
func (f Filter) Apply(all []ContainerMeta) []ContainerMeta {
	out := make([]ContainerMeta, 0, len(all))
	for _, m := range all {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// ResourceSummary aggregates counts per status plus memory reserved by
// running containers, as named by get_resource_summary.
type ResourceSummary struct {
	ByStatus          map[string]int
	RunningMemoryByte uint64
}

func Summarize(all []ContainerMeta) ResourceSummary {
	rs := ResourceSummary{ByStatus: make(map[string]int)}
	for _, m := range all {
		rs.ByStatus[m.Status.Kind.String()]++
		if m.Status.Kind == StatusRunning {
			rs.RunningMemoryByte += m.Resources.MemoryLimit
		}
	}
	return rs
}
