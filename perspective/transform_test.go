package perspective

import (
	"image"
	"math"
	"testing"

	iface "LaneFinder/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var (
	roadSrc = [4][2]float64{{0.457, 0.639}, {0.543, 0.639}, {0.880, 1.0}, {0.159, 1.0}}
	roadDst = [4][2]float64{{0.25, 0}, {0.75, 0}, {0.75, 1}, {0.25, 1}}
)

func newTestTransformer(t *testing.T, size image.Point) *Transformer {
	t.Helper()
	tr, err := FromFractions(roadSrc, roadDst, size)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestCornersMapExactly(t *testing.T) {
	tr := newTestTransformer(t, image.Pt(1280, 720))
	for i := range tr.Source() {
		got := tr.MapToRoad(tr.Source()[i])
		// corners reach OpenCV as float32
		assert.InDelta(t, tr.Destination()[i].X, got.X, 1e-3)
		assert.InDelta(t, tr.Destination()[i].Y, got.Y, 1e-3)
	}
}

func TestPointRoundTrip(t *testing.T) {
	tr := newTestTransformer(t, image.Pt(1280, 720))
	for _, p := range []Point{{640, 600}, {300, 700}, {900, 480}, {620, 470}} {
		back := tr.MapToCamera(tr.MapToRoad(p))
		assert.InDelta(t, p.X, back.X, 1e-6)
		assert.InDelta(t, p.Y, back.Y, 1e-6)
	}
}

func TestDegenerateQuad(t *testing.T) {
	flat := Quad{{0, 0}, {10, 0}, {20, 0}, {30, 0}}
	square := Quad{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	_, err := New(flat, square, image.Pt(100, 100))
	assert.ErrorIs(t, err, ErrDegenerateQuad)

	_, err = New(square, square, image.Pt(0, 100))
	assert.Error(t, err)
}

func TestWarpChecksSize(t *testing.T) {
	tr := newTestTransformer(t, image.Pt(320, 180))
	frame := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	assert.ErrorIs(t, tr.ToRoadView(frame, &dst), iface.ErrInputDimension)
	assert.ErrorIs(t, tr.ToCameraView(frame, &dst), iface.ErrInputDimension)
}

// insideConvex reports whether p lies inside the clockwise or counter-clockwise quad q.
func insideConvex(q Quad, p Point) bool {
	sign := 0.0
	for i := range q {
		a, b := q[i], q[(i+1)%4]
		c := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
		if c == 0 {
			continue
		}
		if sign == 0 {
			sign = c
		} else if sign*c < 0 {
			return false
		}
	}
	return true
}

func shrink(q Quad, f float64) Quad {
	var cx, cy float64
	for _, p := range q {
		cx += p.X / 4
		cy += p.Y / 4
	}
	var out Quad
	for i, p := range q {
		out[i] = Point{X: cx + (p.X-cx)*f, Y: cy + (p.Y-cy)*f}
	}
	return out
}

func TestWarpRoundTripInsideQuad(t *testing.T) {
	size := image.Pt(320, 180)
	tr := newTestTransformer(t, size)

	pix := make([]byte, size.X*size.Y)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			v := 128 + 100*math.Sin(float64(x)/15)*math.Cos(float64(y)/11)
			pix[y*size.X+x] = byte(v)
		}
	}
	frame, err := gocv.NewMatFromBytes(size.Y, size.X, gocv.MatTypeCV8U, pix)
	require.NoError(t, err)
	defer frame.Close()

	road := gocv.NewMat()
	defer road.Close()
	back := gocv.NewMat()
	defer back.Close()
	require.NoError(t, tr.ToRoadView(frame, &road))
	require.NoError(t, tr.ToCameraView(road, &back))
	require.Equal(t, size.Y, back.Rows())
	require.Equal(t, size.X, back.Cols())

	out := back.ToBytes()
	inner := shrink(tr.Source(), 0.8)
	checked := 0
	for y := 0; y < size.Y; y += 3 {
		for x := 0; x < size.X; x += 3 {
			if !insideConvex(inner, Point{float64(x), float64(y)}) {
				continue
			}
			diff := math.Abs(float64(out[y*size.X+x]) - float64(pix[y*size.X+x]))
			require.LessOrEqual(t, diff, 20.0, "pixel (%d,%d)", x, y)
			checked++
		}
	}
	assert.Greater(t, checked, 100)
}
