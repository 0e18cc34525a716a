package layout

import "math"

// Point is a position in image pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is a possibly rotated box given by its corners in
// top-left, top-right, bottom-right, bottom-left order.
type Quad [4]Point

// RectQuad builds an axis-aligned quad from origin and size.
func RectQuad(x, y, w, h float64) Quad {
	return Quad{
		{X: x, Y: y},
		{X: x + w, Y: y},
		{X: x + w, Y: y + h},
		{X: x, Y: y + h},
	}
}

// Center is the mean of the four corners.
func (q Quad) Center() Point {
	var c Point
	for _, p := range q {
		c.X += p.X
		c.Y += p.Y
	}
	return Point{X: c.X / 4, Y: c.Y / 4}
}

// Width is the mean length of the top and bottom edges.
func (q Quad) Width() float64 {
	return (dist(q[0], q[1]) + dist(q[3], q[2])) / 2
}

// Height is the mean length of the left and right edges.
func (q Quad) Height() float64 {
	return (dist(q[0], q[3]) + dist(q[1], q[2])) / 2
}

// Size is the longer of width and height.
func (q Quad) Size() float64 {
	return math.Max(q.Width(), q.Height())
}

// Area is the shoelace area of the quad.
func (q Quad) Area() float64 {
	var s float64
	for i := range q {
		j := (i + 1) % len(q)
		s += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(s) / 2
}

// Degenerate reports a box with non-finite coordinates or no extent at all.
func (q Quad) Degenerate() bool {
	for _, p := range q {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return true
		}
	}
	return q.Width() <= 0 && q.Height() <= 0
}

// split cuts the quad into n equal parts along its longer axis, in
// reading direction (left to right, or top to bottom for tall boxes).
func (q Quad) split(n int) []Quad {
	parts := make([]Quad, n)
	horizontal := q.Width() >= q.Height()
	for i := 0; i < n; i++ {
		t0 := float64(i) / float64(n)
		t1 := float64(i+1) / float64(n)
		if horizontal {
			parts[i] = Quad{
				lerp(q[0], q[1], t0),
				lerp(q[0], q[1], t1),
				lerp(q[3], q[2], t1),
				lerp(q[3], q[2], t0),
			}
		} else {
			parts[i] = Quad{
				lerp(q[0], q[3], t0),
				lerp(q[1], q[2], t0),
				lerp(q[1], q[2], t1),
				lerp(q[0], q[3], t1),
			}
		}
	}
	return parts
}

// weightedDistance penalises vertical offset so that text on the same
// row binds before text stacked above or below.
func weightedDistance(a, b Point, verticalPenalty float64) float64 {
	dx := a.X - b.X
	dy := (a.Y - b.Y) * verticalPenalty
	return math.Sqrt(dx*dx + dy*dy)
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func lerp(a, b Point, t float64) Point {
	return Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}
