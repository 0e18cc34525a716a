package layout

import (
	"math"
	"sort"
)

// orderable is anything placed on the sheet by a box.
type orderable interface {
	box() Quad
}

func (f Fragment) box() Quad { return f.Box }
func (a Anchor) box() Quad   { return a.Box }

// readingOrder returns the indexes of items in sheet reading order:
// lines top to bottom, boxes left to right within a line. A box joins the
// current line when its center is within tolerance × the line leader's
// height of the leader's center. Ties fall back to input position, so the
// result depends only on the input.
func readingOrder[T orderable](items []T, tolerance float64) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}

	centers := make([]Point, len(items))
	for i, it := range items {
		centers[i] = it.box().Center()
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := centers[idx[a]], centers[idx[b]]
		if ca.Y != cb.Y {
			return ca.Y < cb.Y
		}
		if ca.X != cb.X {
			return ca.X < cb.X
		}
		return idx[a] < idx[b]
	})

	out := make([]int, 0, len(items))
	for start := 0; start < len(idx); {
		leader := idx[start]
		limit := centers[leader].Y + tolerance*math.Max(items[leader].box().Height(), 0)

		end := start + 1
		for end < len(idx) && centers[idx[end]].Y <= limit {
			end++
		}

		line := idx[start:end]
		sort.SliceStable(line, func(a, b int) bool {
			ca, cb := centers[line[a]], centers[line[b]]
			if ca.X != cb.X {
				return ca.X < cb.X
			}
			if ca.Y != cb.Y {
				return ca.Y < cb.Y
			}
			return line[a] < line[b]
		})
		out = append(out, line...)
		start = end
	}
	return out
}

// sortFragments returns frags in reading order.
func sortFragments(frags []Fragment, tolerance float64) []Fragment {
	out := make([]Fragment, 0, len(frags))
	for _, i := range readingOrder(frags, tolerance) {
		out = append(out, frags[i])
	}
	return out
}
