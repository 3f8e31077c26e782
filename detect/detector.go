package detect

import (
	"errors"
	"fmt"
	"math"

	"LaneFinder/lane"

	"gocv.io/x/gocv"
)

var ErrChannels = errors.New("road view must be 3-channel BGR")

// Config holds the inclusive thresholds of the lane-pixel tests, all on a 0-255 scale.
type Config struct {
	SLow        int `yaml:"sLow" json:"sLow"`
	SHigh       int `yaml:"sHigh" json:"sHigh"`
	LLow        int `yaml:"lLow" json:"lLow"`
	LHigh       int `yaml:"lHigh" json:"lHigh"`
	GradLow     int `yaml:"gradLow" json:"gradLow"`
	GradHigh    int `yaml:"gradHigh" json:"gradHigh"`
	SobelKernel int `yaml:"sobelKernel" json:"sobelKernel"`
}

func DefaultConfig() Config {
	return Config{
		SLow: 170, SHigh: 255,
		LLow: 30, LHigh: 255,
		GradLow: 20, GradHigh: 100,
		SobelKernel: 3,
	}
}

func (c Config) Validate() error {
	ranges := []struct {
		name      string
		low, high int
	}{
		{"s", c.SLow, c.SHigh},
		{"l", c.LLow, c.LHigh},
		{"grad", c.GradLow, c.GradHigh},
	}
	for _, r := range ranges {
		if r.low < 0 || r.high > 255 || r.low > r.high {
			return fmt.Errorf("detector: %s range [%d,%d] must lie within [0,255]", r.name, r.low, r.high)
		}
	}
	switch c.SobelKernel {
	case 1, 3, 5, 7:
	default:
		return fmt.Errorf("detector: sobel kernel must be 1, 3, 5 or 7, got %d", c.SobelKernel)
	}
	return nil
}

// Detector marks candidate lane pixels in a road view.
type Detector struct {
	cfg Config
}

func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

func (d *Detector) Config() Config { return d.cfg }

// ExtractMask returns a single-channel 0/255 mask; the caller closes it.
// A pixel is set when its saturation and lightness both fall in range, or when
// its scaled horizontal gradient does.
func (d *Detector) ExtractMask(roadView gocv.Mat) (gocv.Mat, error) {
	if roadView.Empty() || roadView.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("detect: %w, got %d channels", ErrChannels, roadView.Channels())
	}

	colorMask := d.colorMask(roadView)
	defer colorMask.Close()
	gradMask, err := d.gradientMask(roadView)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gradMask.Close()

	mask := gocv.NewMat()
	gocv.BitwiseOr(colorMask, gradMask, &mask)
	return mask, nil
}

func (d *Detector) colorMask(bgr gocv.Mat) gocv.Mat {
	hls := gocv.NewMat()
	defer hls.Close()
	gocv.CvtColor(bgr, &hls, gocv.ColorBGRToHLS)

	channels := gocv.Split(hls)
	for i := range channels {
		defer channels[i].Close()
	}

	sMask := gocv.NewMat()
	defer sMask.Close()
	gocv.InRangeWithScalar(channels[2], scalar(d.cfg.SLow), scalar(d.cfg.SHigh), &sMask)

	lMask := gocv.NewMat()
	defer lMask.Close()
	gocv.InRangeWithScalar(channels[1], scalar(d.cfg.LLow), scalar(d.cfg.LHigh), &lMask)

	out := gocv.NewMat()
	gocv.BitwiseAnd(sMask, lMask, &out)
	return out
}

func (d *Detector) gradientMask(bgr gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	sobel := gocv.NewMat()
	defer sobel.Close()
	gocv.Sobel(gray, &sobel, gocv.MatTypeCV32F, 1, 0, d.cfg.SobelKernel, 1, 0, gocv.BorderDefault)

	data, err := sobel.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("detect: read gradient: %w", err)
	}
	var peak float64
	for _, v := range data {
		peak = math.Max(peak, math.Abs(float64(v)))
	}

	if peak == 0 {
		return gocv.Zeros(gray.Rows(), gray.Cols(), gocv.MatTypeCV8U), nil
	}
	out := gocv.NewMat()
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.ConvertScaleAbs(sobel, &scaled, 255/peak, 0)
	gocv.InRangeWithScalar(scaled, scalar(d.cfg.GradLow), scalar(d.cfg.GradHigh), &out)
	return out, nil
}

func scalar(v int) gocv.Scalar {
	return gocv.NewScalar(float64(v), 0, 0, 0)
}

// ToLaneMask copies a single-channel 8-bit mask into the tracker's representation.
func ToLaneMask(m gocv.Mat) (lane.Mask, error) {
	if m.Channels() != 1 || m.Type() != gocv.MatTypeCV8U {
		return lane.Mask{}, fmt.Errorf("detect: mask must be single-channel 8-bit, got type %v", m.Type())
	}
	data := m.ToBytes()
	if len(data) != m.Rows()*m.Cols() {
		return lane.Mask{}, fmt.Errorf("detect: mask has %d bytes for %dx%d", len(data), m.Cols(), m.Rows())
	}
	out := lane.NewMask(m.Cols(), m.Rows())
	for i, v := range data {
		if v != 0 {
			out.Pix[i] = 255
		}
	}
	return out, nil
}
