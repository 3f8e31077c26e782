package perspective

import (
	"errors"
	"fmt"
	"image"
	"math"

	iface "LaneFinder/interface"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

type Point struct {
	X, Y float64
}

// Quad lists corners in order: top-left, top-right, bottom-right, bottom-left.
type Quad [4]Point

// area is the signed shoelace area.
func (q Quad) area() float64 {
	var a float64
	for i := range q {
		j := (i + 1) % 4
		a += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return a / 2
}

func (q Quad) Points() []image.Point {
	pts := make([]image.Point, len(q))
	for i, p := range q {
		pts[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return pts
}

func (q Quad) points2f() []gocv.Point2f {
	pts := make([]gocv.Point2f, len(q))
	for i, p := range q {
		pts[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return pts
}

// Transformer maps between the camera view and the top-down road view of one frame size.
// It is read-only after construction.
type Transformer struct {
	src, dst Quad
	size     image.Point
	forward  [9]float64
	inverse  [9]float64
	fwdMat   gocv.Mat
	invMat   gocv.Mat
}

// New solves the homography taking src (camera view) onto dst (road view).
func New(src, dst Quad, size image.Point) (*Transformer, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("perspective: invalid frame size %dx%d", size.X, size.Y)
	}
	for _, q := range []Quad{src, dst} {
		if math.Abs(q.area()) < 1 {
			return nil, fmt.Errorf("perspective: %w %v", ErrDegenerateQuad, q)
		}
	}
	fwd, err := homography(src, dst)
	if err != nil {
		return nil, err
	}
	inv, err := invert(fwd)
	if err != nil {
		return nil, err
	}
	return &Transformer{
		src:     src,
		dst:     dst,
		size:    size,
		forward: fwd,
		inverse: inv,
		fwdMat:  toMat(fwd),
		invMat:  toMat(inv),
	}, nil
}

// FromFractions builds the transformer from corners given as fractions of the frame size.
func FromFractions(src, dst [4][2]float64, size image.Point) (*Transformer, error) {
	scale := func(f [4][2]float64) Quad {
		var q Quad
		for i, p := range f {
			q[i] = Point{X: p[0] * float64(size.X), Y: p[1] * float64(size.Y)}
		}
		return q
	}
	return New(scale(src), scale(dst), size)
}

func (t *Transformer) Source() Quad { return t.src }
func (t *Transformer) Destination() Quad { return t.dst }
func (t *Transformer) Size() image.Point { return t.size }
func (t *Transformer) Forward() [9]float64 { return t.forward }
func (t *Transformer) Inverse() [9]float64 { return t.inverse }

func (t *Transformer) ToRoadView(src gocv.Mat, dst *gocv.Mat) error {
	if err := iface.CheckSize("road view", src, t.size); err != nil {
		return err
	}
	gocv.WarpPerspective(src, dst, t.fwdMat, t.size)
	return nil
}

func (t *Transformer) ToCameraView(src gocv.Mat, dst *gocv.Mat) error {
	if err := iface.CheckSize("camera view", src, t.size); err != nil {
		return err
	}
	gocv.WarpPerspective(src, dst, t.invMat, t.size)
	return nil
}

func (t *Transformer) MapToRoad(p Point) Point { return apply(t.forward, p) }
func (t *Transformer) MapToCamera(p Point) Point { return apply(t.inverse, p) }

func (t *Transformer) Close() error {
	t.fwdMat.Close()
	t.invMat.Close()
	return nil
}

func apply(h [9]float64, p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// homography solves H from the four correspondences with OpenCV.
func homography(src, dst Quad) ([9]float64, error) {
	sv := gocv.NewPoint2fVectorFromPoints(src.points2f())
	defer sv.Close()
	dv := gocv.NewPoint2fVectorFromPoints(dst.points2f())
	defer dv.Close()
	h := gocv.GetPerspectiveTransform2f(sv, dv)
	defer h.Close()
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		return [9]float64{}, fmt.Errorf("perspective: %w", ErrDegenerateQuad)
	}
	var out [9]float64
	for i := range out {
		out[i] = h.GetDoubleAt(i/3, i%3)
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [9]float64{}, fmt.Errorf("perspective: %w", ErrDegenerateQuad)
		}
	}
	if out[8] == 0 {
		return [9]float64{}, fmt.Errorf("perspective: %w", ErrDegenerateQuad)
	}
	return out, nil
}

func invert(h [9]float64) ([9]float64, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, h[:])); err != nil {
		return [9]float64{}, fmt.Errorf("perspective: invert homography: %w", err)
	}
	var out [9]float64
	for i := range out {
		out[i] = inv.At(i/3, i%3) / inv.At(2, 2)
	}
	return out, nil
}

func toMat(h [9]float64) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for i, v := range h {
		m.SetDoubleAt(i/3, i%3, v)
	}
	return m
}
