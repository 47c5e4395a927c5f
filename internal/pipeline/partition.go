package pipeline

// RoundRobin splits items into w ordered groups: item i goes to group
// i mod w. Group sizes differ by at most one and each group keeps the
// input order. A w below 1 is treated as 1. When w exceeds len(items) the
// trailing groups are empty.
func RoundRobin[T any](items []T, w int) [][]T {
	if w < 1 {
		w = 1
	}
	groups := make([][]T, w)
	for g := range groups {
		size := len(items) / w
		if g < len(items)%w {
			size++
		}
		groups[g] = make([]T, 0, size)
	}
	for i, it := range items {
		groups[i%w] = append(groups[i%w], it)
	}
	return groups
}
