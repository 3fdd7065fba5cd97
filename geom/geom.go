// Package geom provides the bounding-box arithmetic shared by the rendering,
// alignment and output layers. Boxes use (x, y, width, height) with the
// origin at the top-left of the page, matching rendered image coordinates.
package geom

// Box is an axis-aligned bounding box in page coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	if b.Empty() {
		return 0
	}
	return b.Width * b.Height
}

// Union returns the smallest box containing both b and o. Unioning with an
// empty box returns the other box unchanged, so a zero Box is a valid
// accumulator seed.
func (b Box) Union(o Box) Box {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	x0 := min(b.X, o.X)
	y0 := min(b.Y, o.Y)
	x1 := max(b.X+b.Width, o.X+o.Width)
	y1 := max(b.Y+b.Height, o.Y+o.Height)
	return Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Intersection returns the overlapping region of b and o, or a zero Box if
// they are disjoint.
func (b Box) Intersection(o Box) Box {
	x0 := max(b.X, o.X)
	y0 := max(b.Y, o.Y)
	x1 := min(b.X+b.Width, o.X+o.Width)
	y1 := min(b.Y+b.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Box{}
	}
	return Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// ContainedIn reports whether at least ratio of b's area lies inside o.
// A degenerate b is never contained.
func (b Box) ContainedIn(o Box, ratio float64) bool {
	area := b.Area()
	if area <= 0 {
		return false
	}
	return b.Intersection(o).Area()/area >= ratio
}

// Scale multiplies all coordinates by (sx, sy). Used to map text-layer boxes
// in PDF points onto the rendered image pixel grid.
func (b Box) Scale(sx, sy float64) Box {
	return Box{X: b.X * sx, Y: b.Y * sy, Width: b.Width * sx, Height: b.Height * sy}
}

// Clamp restricts the box to the [0,w] x [0,h] page rectangle. Boxes fully
// outside collapse to a zero Box.
func (b Box) Clamp(w, h float64) Box {
	return b.Intersection(Box{Width: w, Height: h})
}
