package road

import (
	"image"
	"math"
	"testing"

	"LaneFinder/calibration"
	iface "LaneFinder/interface"
	"LaneFinder/lane"
	"LaneFinder/perspective"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	frameWidth  = 1280
	frameHeight = 720
)

var (
	roadSrc = [4][2]float64{{0.457, 0.639}, {0.543, 0.639}, {0.880, 1.0}, {0.159, 1.0}}
	roadDst = [4][2]float64{{0.25, 0}, {0.75, 0}, {0.75, 1}, {0.25, 1}}
)

type fixture struct {
	camera *calibration.Model
	proj   *perspective.Transformer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	size := image.Pt(frameWidth, frameHeight)
	camera, err := calibration.NewModel(calibration.Ideal(size))
	require.NoError(t, err)
	proj, err := perspective.FromFractions(roadSrc, roadDst, size)
	require.NoError(t, err)
	t.Cleanup(func() {
		camera.Close()
		proj.Close()
	})
	return fixture{camera: camera, proj: proj}
}

func (f fixture) manager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(f.camera, f.proj, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// cameraFrame paints yellow boundaries on a grey road in the road view and projects
// the result into the camera view.
func (f fixture) cameraFrame(t *testing.T, left, right lane.Coefficients, leftHalf, rightHalf int) gocv.Mat {
	t.Helper()
	pix := make([]byte, frameWidth*frameHeight*3)
	for y := 0; y < frameHeight; y++ {
		lx := int(math.Round(left.At(float64(y))))
		rx := int(math.Round(right.At(float64(y))))
		for x := 0; x < frameWidth; x++ {
			i := (y*frameWidth + x) * 3
			b, g, r := byte(60), byte(60), byte(60)
			if (x >= lx-leftHalf && x <= lx+leftHalf) || (x >= rx-rightHalf && x <= rx+rightHalf) {
				b, g, r = 0, 220, 240
			}
			pix[i], pix[i+1], pix[i+2] = b, g, r
		}
	}
	roadView, err := gocv.NewMatFromBytes(frameHeight, frameWidth, gocv.MatTypeCV8UC3, pix)
	require.NoError(t, err)
	defer roadView.Close()

	frame := gocv.NewMat()
	require.NoError(t, f.proj.ToCameraView(roadView, &frame))
	t.Cleanup(func() { frame.Close() })
	return frame
}

func TestProcessStraightLane(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, DefaultConfig())
	frame := f.cameraFrame(t, lane.Coefficients{0, 0, 300}, lane.Coefficients{0, 0, 900}, 10, 10)

	var res *iface.FrameResult
	var err error
	for i := 0; i < 3; i++ {
		res, err = m.Process(frame)
		require.NoError(t, err)
	}
	g := res.Geometry

	assert.Equal(t, int64(2), g.Frame)
	assert.True(t, g.LeftConfident)
	assert.True(t, g.RightConfident)
	assert.True(t, g.LeftAccepted)
	assert.True(t, g.RightAccepted)
	assert.Equal(t, "warm", g.LeftMode)
	assert.True(t, g.CrossCheckPassed)
	assert.InDelta(t, 300, g.LeftCoefficients[2], 6)
	assert.InDelta(t, 900, g.RightCoefficients[2], 6)
	assert.Greater(t, g.LeftRadius, 1000.0)
	assert.Greater(t, g.RightRadius, 1000.0)

	// lane center at 600 px lies left of the 640 px image center
	assert.Greater(t, g.Offset, 0.0)
	assert.InDelta(t, 40*3.7/700, g.Offset, 0.05)
	assert.InDelta(t, 600*3.7/700, g.LaneWidth, 0.1)

	assert.Equal(t, frameHeight, res.Annotated.Rows())
	assert.Equal(t, frameWidth, res.Annotated.Cols())
	assert.Equal(t, 3, res.Annotated.Channels())
	assert.Equal(t, 1, res.Views.Mask.Channels())
	assert.False(t, res.Views.RoadOverlay.Empty())
	assert.Same(t, res, m.Latest())
}

func TestProcessRejectsWrongSize(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, DefaultConfig())
	small := gocv.NewMatWithSize(360, 640, gocv.MatTypeCV8UC3)
	defer small.Close()

	_, err := m.Process(small)
	assert.ErrorIs(t, err, iface.ErrInputDimension)
	assert.Nil(t, m.Latest())
}

func TestCrossCheckRollsBackWeakerSide(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, DefaultConfig())
	// 400 px apart is about 2.1 m, narrower than any lane
	frame := f.cameraFrame(t, lane.Coefficients{0, 0, 420}, lane.Coefficients{0, 0, 820}, 12, 4)

	res, err := m.Process(frame)
	require.NoError(t, err)
	g := res.Geometry
	assert.False(t, g.CrossCheckPassed)
	assert.True(t, g.LeftAccepted)
	assert.False(t, g.RightAccepted)
	assert.False(t, m.Tracker().Line(lane.Right).HasFit())
	assert.Equal(t, 1, g.RightFailures)
	assert.Zero(t, g.LeftFailures)
}

func TestResetStartsOver(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, DefaultConfig())
	frame := f.cameraFrame(t, lane.Coefficients{0, 0, 300}, lane.Coefficients{0, 0, 900}, 10, 10)

	_, err := m.Process(frame)
	require.NoError(t, err)
	m.Reset()
	assert.Nil(t, m.Latest())

	res, err := m.Process(frame)
	require.NoError(t, err)
	assert.Zero(t, res.Geometry.Frame)
	assert.Equal(t, "cold", res.Geometry.LeftMode)
}

func TestNewManagerValidates(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.CrossCheck.MaxLaneWidth = 1
	_, err := NewManager(f.camera, f.proj, cfg)
	assert.Error(t, err)

	other, err := perspective.FromFractions(roadSrc, roadDst, image.Pt(640, 360))
	require.NoError(t, err)
	defer other.Close()
	_, err = NewManager(f.camera, other, DefaultConfig())
	assert.Error(t, err)
}
