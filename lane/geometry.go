package lane

import "math"

// Radius returns the radius of curvature in meters at row yEval. The pixel fit is
// rescaled to meters first; near-straight curves are capped at maxRadius.
func Radius(c Coefficients, yEval float64, s Scale, maxRadius float64) float64 {
	a := c[0] * s.XMetersPerPixel / (s.YMetersPerPixel * s.YMetersPerPixel)
	b := c[1] * s.XMetersPerPixel / s.YMetersPerPixel
	y := yEval * s.YMetersPerPixel
	if a == 0 {
		return maxRadius
	}
	slope := 2*a*y + b
	r := math.Pow(1+slope*slope, 1.5) / math.Abs(2*a)
	if math.IsNaN(r) || r > maxRadius {
		return maxRadius
	}
	return r
}

// Offset is the vehicle's lateral offset in meters: image center minus the lane
// midpoint at the bottom row. Positive when the lane center lies left of image center.
func Offset(left, right Coefficients, width, height int, s Scale) float64 {
	y := float64(height - 1)
	mid := (left.At(y) + right.At(y)) / 2
	return (float64(width)/2 - mid) * s.XMetersPerPixel
}

// Width is the lane width in meters at the bottom row.
func Width(left, right Coefficients, height int, s Scale) float64 {
	y := float64(height - 1)
	return (right.At(y) - left.At(y)) * s.XMetersPerPixel
}
