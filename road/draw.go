package road

import (
	"image"
	"image/color"
	"math"

	"LaneFinder/lane"

	"gocv.io/x/gocv"
)

var (
	laneFill  = color.RGBA{G: 255, A: 255}
	leftEdge  = color.RGBA{R: 255, A: 255}
	rightEdge = color.RGBA{B: 255, A: 255}
)

const (
	curveStep    = 8
	edgeWidth    = 12
	overlayAlpha = 0.3
)

// draw paints the lane between the smoothed boundaries in the road view, projects it
// back, and blends it over the undistorted frame.
func (m *Manager) draw() error {
	size := m.proj.Size()
	m.layer.Close()
	m.layer = gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC3)

	ll, rl := m.tracker.Line(lane.Left), m.tracker.Line(lane.Right)
	if ll.HasFit() && rl.HasFit() {
		left := curvePoints(ll.Coefficients(), size.Y)
		right := curvePoints(rl.Coefficients(), size.Y)

		polygon := make([]image.Point, 0, len(left)+len(right))
		polygon = append(polygon, left...)
		for i := len(right) - 1; i >= 0; i-- {
			polygon = append(polygon, right[i])
		}
		area := gocv.NewPointsVectorFromPoints([][]image.Point{polygon})
		gocv.FillPoly(&m.layer, area, laneFill)
		area.Close()
	}
	for _, l := range []*lane.Line{ll, rl} {
		if !l.HasFit() {
			continue
		}
		c := leftEdge
		if l.Side() == lane.Right {
			c = rightEdge
		}
		edge := gocv.NewPointsVectorFromPoints([][]image.Point{curvePoints(l.Coefficients(), size.Y)})
		gocv.Polylines(&m.layer, edge, false, c, edgeWidth)
		edge.Close()
	}

	gocv.AddWeighted(m.roadView, 1, m.layer, overlayAlpha, 0, &m.roadOverlay)
	if err := m.proj.ToCameraView(m.layer, &m.layerCamera); err != nil {
		return err
	}
	gocv.AddWeighted(m.undistorted, 1, m.layerCamera, overlayAlpha, 0, &m.annotated)
	return nil
}

func curvePoints(c lane.Coefficients, height int) []image.Point {
	pts := make([]image.Point, 0, height/curveStep+2)
	for y := 0; y < height; y += curveStep {
		pts = append(pts, image.Pt(int(math.Round(c.At(float64(y)))), y))
	}
	last := height - 1
	pts = append(pts, image.Pt(int(math.Round(c.At(float64(last)))), last))
	return pts
}
