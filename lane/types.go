package lane

import "fmt"

// Side selects which boundary a Line tracks.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// SearchMode is how pixels were gathered for a fit.
type SearchMode int

const (
	ColdStart SearchMode = iota // sliding window
	Warm                        // margin around the previous curve
)

func (m SearchMode) String() string {
	if m == Warm {
		return "warm"
	}
	return "cold"
}

// Coefficients of x = a*y^2 + b*y + c, in road-view pixels.
type Coefficients [3]float64

// At evaluates the curve at row y.
func (c Coefficients) At(y float64) float64 {
	return c[0]*y*y + c[1]*y + c[2]
}

// Point is a mask pixel coordinate.
type Point struct {
	X, Y int
}

// Mask is a binary lane-pixel grid; any non-zero byte is a candidate pixel.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewMask(width, height int) Mask {
	return Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

func (m Mask) At(x, y int) bool {
	return m.Pix[y*m.Width+x] != 0
}

func (m Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = 255
}

// Count returns the number of set pixels.
func (m Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Scale converts road-view pixels to meters. It comes from an assumed lane width and
// dashed-line length, not from calibration.
type Scale struct {
	XMetersPerPixel float64 `yaml:"xMetersPerPixel" json:"xMetersPerPixel"`
	YMetersPerPixel float64 `yaml:"yMetersPerPixel" json:"yMetersPerPixel"`
}

// DefaultScale assumes a 3.7 m lane spanning 700 px and 30 m of road over 720 rows.
func DefaultScale() Scale {
	return Scale{XMetersPerPixel: 3.7 / 700, YMetersPerPixel: 30.0 / 720}
}

// Config holds the tracker tunables. Defaults come from DefaultConfig.
type Config struct {
	Windows             int          `yaml:"windows" json:"windows"`                         // sliding-window bands
	WindowMargin        int          `yaml:"windowMargin" json:"windowMargin"`               // half-width of a sliding window, px
	MinWindowPixels     int          `yaml:"minWindowPixels" json:"minWindowPixels"`         // pixels needed to recenter a window
	SearchMargin        int          `yaml:"searchMargin" json:"searchMargin"`               // half-width around the previous curve in warm mode, px
	MinInliers          int          `yaml:"minInliers" json:"minInliers"`                   // pixels needed to accept a fit
	MaxCoefficientDelta Coefficients `yaml:"maxCoefficientDelta" json:"maxCoefficientDelta"` // per-coefficient jump allowed while tracking
	HistorySize         int          `yaml:"historySize" json:"historySize"`                 // accepted fits averaged for smoothing
	MaxFailures         int          `yaml:"maxFailures" json:"maxFailures"`                 // consecutive rejections before forcing a cold start
	MaxRadius           float64      `yaml:"maxRadius" json:"maxRadius"`                     // radius reported for straight lines, meters
}

func DefaultConfig() Config {
	return Config{
		Windows:             9,
		WindowMargin:        100,
		MinWindowPixels:     50,
		SearchMargin:        100,
		MinInliers:          300,
		MaxCoefficientDelta: Coefficients{0.001, 1.0, 100.0},
		HistorySize:         5,
		MaxFailures:         3,
		MaxRadius:           100000,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Windows < 1:
		return fmt.Errorf("tracker: windows must be >= 1, got %d", c.Windows)
	case c.WindowMargin < 1 || c.SearchMargin < 1:
		return fmt.Errorf("tracker: margins must be >= 1")
	case c.MinInliers < 3:
		return fmt.Errorf("tracker: minInliers must be >= 3, got %d", c.MinInliers)
	case c.HistorySize < 1:
		return fmt.Errorf("tracker: historySize must be >= 1, got %d", c.HistorySize)
	case c.MaxFailures < 0:
		return fmt.Errorf("tracker: maxFailures must be >= 0, got %d", c.MaxFailures)
	case c.MaxRadius <= 0:
		return fmt.Errorf("tracker: maxRadius must be positive")
	}
	for i, d := range c.MaxCoefficientDelta {
		if d <= 0 {
			return fmt.Errorf("tracker: maxCoefficientDelta[%d] must be positive", i)
		}
	}
	return nil
}
