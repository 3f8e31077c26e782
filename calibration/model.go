package calibration

import (
	"fmt"
	"image"
	"image/color"
	"math"

	iface "LaneFinder/interface"
	"LaneFinder/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Size is an image size in pixels.
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (s Size) Point() image.Point { return image.Pt(s.Width, s.Height) }

// Parameters is the solved camera model. CameraMatrix is row-major,
// Distortion is in OpenCV order k1, k2, p1, p2, k3.
type Parameters struct {
	CameraMatrix [9]float64 `yaml:"cameraMatrix" json:"cameraMatrix"`
	Distortion   []float64  `yaml:"distortion" json:"distortion"`
	ImageSize    Size       `yaml:"imageSize" json:"imageSize"`
	RMS          float64    `yaml:"rms" json:"rms"`
}

// Ideal is a distortion-free pinhole camera centred on the image, focal length equal to the width.
func Ideal(size image.Point) Parameters {
	f := float64(size.X)
	return Parameters{
		CameraMatrix: [9]float64{f, 0, float64(size.X) / 2, 0, f, float64(size.Y) / 2, 0, 0, 1},
		Distortion:   []float64{0, 0, 0, 0, 0},
		ImageSize:    Size{Width: size.X, Height: size.Y},
	}
}

func (p Parameters) Validate() error {
	if p.ImageSize.Width <= 0 || p.ImageSize.Height <= 0 {
		return fmt.Errorf("calibration: invalid image size %dx%d", p.ImageSize.Width, p.ImageSize.Height)
	}
	if p.CameraMatrix[0] <= 0 || p.CameraMatrix[4] <= 0 {
		return fmt.Errorf("calibration: focal lengths must be positive, got fx=%g fy=%g", p.CameraMatrix[0], p.CameraMatrix[4])
	}
	if len(p.Distortion) > 14 {
		return fmt.Errorf("calibration: %d distortion coefficients, at most 14 supported", len(p.Distortion))
	}
	return nil
}

// coeff returns the i-th distortion coefficient, zero when not stored.
func (p Parameters) coeff(i int) float64 {
	if i < len(p.Distortion) {
		return p.Distortion[i]
	}
	return 0
}

// DistortPoint maps an ideal pixel position to where the lens images it.
func (p Parameters) DistortPoint(x, y float64) (float64, float64) {
	fx, cx, fy, cy := p.CameraMatrix[0], p.CameraMatrix[2], p.CameraMatrix[4], p.CameraMatrix[5]
	xn, yn := (x-cx)/fx, (y-cy)/fy
	xd, yd := p.distortNormalized(xn, yn)
	return xd*fx + cx, yd*fy + cy
}

// UndistortPoint inverts DistortPoint by fixed-point iteration.
func (p Parameters) UndistortPoint(x, y float64) (float64, float64) {
	fx, cx, fy, cy := p.CameraMatrix[0], p.CameraMatrix[2], p.CameraMatrix[4], p.CameraMatrix[5]
	k1, k2, p1, p2, k3 := p.coeff(0), p.coeff(1), p.coeff(2), p.coeff(3), p.coeff(4)
	xd, yd := (x-cx)/fx, (y-cy)/fy
	xn, yn := xd, yd
	for i := 0; i < 20; i++ {
		r2 := xn*xn + yn*yn
		radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
		dx := 2*p1*xn*yn + p2*(r2+2*xn*xn)
		dy := p1*(r2+2*yn*yn) + 2*p2*xn*yn
		xn = (xd - dx) / radial
		yn = (yd - dy) / radial
	}
	return xn*fx + cx, yn*fy + cy
}

// MaxShift is the largest distance, in pixels, that the lens moves a border pixel.
func (p Parameters) MaxShift() float64 {
	w, h := float64(p.ImageSize.Width-1), float64(p.ImageSize.Height-1)
	var shift float64
	for _, pt := range [][2]float64{{0, 0}, {w / 2, 0}, {w, 0}, {0, h / 2}, {w, h / 2}, {0, h}, {w / 2, h}, {w, h}} {
		x, y := p.DistortPoint(pt[0], pt[1])
		shift = math.Max(shift, math.Hypot(x-pt[0], y-pt[1]))
	}
	return shift
}

func (p Parameters) distortNormalized(xn, yn float64) (float64, float64) {
	k1, k2, p1, p2, k3 := p.coeff(0), p.coeff(1), p.coeff(2), p.coeff(3), p.coeff(4)
	r2 := xn*xn + yn*yn
	radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
	xd := xn*radial + 2*p1*xn*yn + p2*(r2+2*xn*xn)
	yd := yn*radial + p1*(r2+2*yn*yn) + 2*p2*xn*yn
	return xd, yd
}

// Model holds Parameters together with the undistortion remap tables built from them.
// It is read-only after construction and safe to share between sessions.
type Model struct {
	params Parameters
	mapX   gocv.Mat
	mapY   gocv.Mat
}

func NewModel(p Parameters) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer k.Close()
	for i, v := range p.CameraMatrix {
		k.SetDoubleAt(i/3, i%3, v)
	}
	n := len(p.Distortion)
	if n == 0 {
		n = 5
	}
	d := gocv.NewMatWithSize(1, n, gocv.MatTypeCV64F)
	defer d.Close()
	for i := 0; i < n; i++ {
		d.SetDoubleAt(0, i, p.coeff(i))
	}
	r := gocv.NewMat()
	defer r.Close()

	m := &Model{params: p, mapX: gocv.NewMat(), mapY: gocv.NewMat()}
	gocv.InitUndistortRectifyMap(k, d, r, k, p.ImageSize.Point(), int(gocv.MatTypeCV32FC1), m.mapX, m.mapY)
	if m.mapX.Empty() || m.mapY.Empty() {
		_ = m.Close()
		return nil, fmt.Errorf("calibration: could not build undistortion maps for %dx%d", p.ImageSize.Width, p.ImageSize.Height)
	}
	return m, nil
}

func (m *Model) Parameters() Parameters { return m.params }

func (m *Model) Size() image.Point { return m.params.ImageSize.Point() }

// Undistort writes the corrected frame into dst. frame must match the reference size.
func (m *Model) Undistort(frame gocv.Mat, dst *gocv.Mat) error {
	if err := iface.CheckSize("undistort", frame, m.Size()); err != nil {
		return err
	}
	gocv.Remap(frame, dst, &m.mapX, &m.mapY, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return nil
}

func (m *Model) Close() error {
	m.mapX.Close()
	m.mapY.Close()
	return nil
}

var subPixCriteria = gocv.NewTermCriteria(gocv.Count+gocv.EPS, 30, 0.001)

// Calibrate solves the camera model from views of a chessboard with pattern inner corners.
// Views whose size differs from the first view are skipped.
func Calibrate(images []gocv.Mat, pattern image.Point) (*Model, error) {
	if len(images) == 0 {
		return nil, &CalibrationError{Pattern: pattern}
	}
	board := boardPoints(pattern)
	size := image.Pt(images[0].Cols(), images[0].Rows())

	var objectPoints [][]gocv.Point3f
	var imagePoints [][]gocv.Point2f
	for i, img := range images {
		if got := image.Pt(img.Cols(), img.Rows()); got != size {
			logger.Log().Warn("skipping calibration image with mismatched size",
				zap.Int("index", i), zap.Int("width", got.X), zap.Int("height", got.Y))
			continue
		}
		corners, ok := findCorners(img, pattern)
		if !ok {
			logger.Log().Debug("no chessboard found", zap.Int("index", i))
			continue
		}
		objectPoints = append(objectPoints, board)
		imagePoints = append(imagePoints, corners)
	}
	if len(imagePoints) == 0 {
		return nil, &CalibrationError{Images: len(images), Pattern: pattern}
	}

	objVec := gocv.NewPoints3fVectorFromPoints(objectPoints)
	defer objVec.Close()
	imgVec := gocv.NewPoints2fVectorFromPoints(imagePoints)
	defer imgVec.Close()

	k := gocv.NewMat()
	defer k.Close()
	d := gocv.NewMat()
	defer d.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objVec, imgVec, size, &k, &d, &rvecs, &tvecs, 0)

	p := Parameters{ImageSize: Size{Width: size.X, Height: size.Y}, RMS: rms}
	for i := range p.CameraMatrix {
		p.CameraMatrix[i] = k.GetDoubleAt(i/3, i%3)
	}
	n := d.Rows() * d.Cols()
	p.Distortion = make([]float64, n)
	for i := 0; i < n; i++ {
		if d.Rows() == 1 {
			p.Distortion[i] = d.GetDoubleAt(0, i)
		} else {
			p.Distortion[i] = d.GetDoubleAt(i, 0)
		}
	}

	logger.Log().Info("camera calibrated",
		zap.Int("views", len(imagePoints)),
		zap.Int("images", len(images)),
		zap.Float64("rms", rms),
		zap.Float64("maxShiftPx", p.MaxShift()),
		zap.Float64("fx", p.CameraMatrix[0]),
		zap.Float64("fy", p.CameraMatrix[4]))
	return NewModel(p)
}

// boardPoints lays the inner corners out on the z=0 plane, one unit per square.
func boardPoints(pattern image.Point) []gocv.Point3f {
	pts := make([]gocv.Point3f, 0, pattern.X*pattern.Y)
	for y := 0; y < pattern.Y; y++ {
		for x := 0; x < pattern.X; x++ {
			pts = append(pts, gocv.Point3f{X: float32(x), Y: float32(y)})
		}
	}
	return pts
}

func findCorners(img gocv.Mat, pattern image.Point) ([]gocv.Point2f, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(gray, pattern, &corners, gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage) {
		return nil, false
	}
	gocv.CornerSubPix(gray, &corners, image.Pt(11, 11), image.Pt(-1, -1), subPixCriteria)

	n := corners.Rows() * corners.Cols()
	if n != pattern.X*pattern.Y {
		return nil, false
	}
	pts := make([]gocv.Point2f, n)
	for i := 0; i < n; i++ {
		v := corners.GetVecfAt(i, 0)
		pts[i] = gocv.Point2f{X: v[0], Y: v[1]}
	}
	return pts, true
}
