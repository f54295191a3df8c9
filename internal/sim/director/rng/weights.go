package rng

// PickWeighted returns the index chosen by one draw from src, walking the
// weights in the order given. Non-positive weights are never chosen. It
// returns -1 when nothing can be picked.
func PickWeighted(weights []float64, src Source) int {
	var total float64
	last := -1
	for i, w := range weights {
		if w > 0 {
			total += w
			last = i
		}
	}
	if total <= 0 || last < 0 {
		return -1
	}

	target := src.Float64() * total
	var acc float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if target < acc {
			return i
		}
	}
	return last
}
