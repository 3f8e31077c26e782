package diag

import (
	"fmt"
	"image"
	"image/color"
	"math"

	iface "LaneFinder/interface"

	"gocv.io/x/gocv"
)

var (
	filterText = color.RGBA{R: 192, G: 192, B: 192, A: 255}
	statusText = color.RGBA{R: 192, G: 192, B: 0, A: 255}
)

const mosaicTextOffset = 30

// Composer renders output frames: the annotated frame, optionally with lane statistics,
// or one of the diagnostic screens.
type Composer struct {
	Mode      iface.DiagnosticMode
	FontScale float64
	Thickness int
}

func NewComposer(mode iface.DiagnosticMode) (*Composer, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	return &Composer{Mode: mode, FontScale: 1, Thickness: 2}, nil
}

// Render returns a new Mat for r; the caller closes it.
func (c *Composer) Render(r *iface.FrameResult) gocv.Mat {
	if view, ok := iface.ViewFor(c.Mode, r); ok {
		return c.Compose(view, r.Geometry, c.Mode.ShowTextOverlay)
	}
	out := r.Annotated.Clone()
	if c.Mode.ShowTextOverlay {
		c.DrawStats(&out, r.Geometry, 0, statusText)
	}
	return out
}

// Compose lays out a diagnostic screen at the size of its first view.
func (c *Composer) Compose(view iface.DiagnosticView, g iface.Geometry, text bool) gocv.Mat {
	var tiles []gocv.Mat
	textColor := statusText
	switch v := view.(type) {
	case iface.FilterView:
		tiles = []gocv.Mat{v.Mask, v.RoadView}
		textColor = filterText
	case iface.ProjectionView:
		tiles = []gocv.Mat{v.RoadOverlay, v.Annotated}
	case iface.FullMosaic:
		tiles = []gocv.Mat{v.Mask, v.RoadView, v.RoadOverlay, v.Annotated}
	default:
		return gocv.NewMat()
	}

	w, h := tiles[0].Cols(), tiles[0].Rows()
	canvas := gocv.Zeros(h, w, gocv.MatTypeCV8UC3)
	half := image.Pt(w/2, h/2)

	// two tiles sit side by side in the middle band, four fill a 2x2 grid
	origins := []image.Point{{0, h / 4}, {w / 2, h / 4}}
	if len(tiles) == 4 {
		origins = []image.Point{{0, 0}, {w / 2, 0}, {0, h / 2}, {w / 2, h / 2}}
	}
	for i, tile := range tiles {
		placeTile(&canvas, tile, image.Rectangle{Min: origins[i], Max: origins[i].Add(half)})
	}

	if text {
		c.DrawStats(&canvas, g, mosaicTextOffset, textColor)
	}
	return canvas
}

func placeTile(canvas *gocv.Mat, tile gocv.Mat, rect image.Rectangle) {
	if tile.Empty() {
		return
	}
	bgr := tile
	if tile.Channels() == 1 {
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(tile, &bgr, gocv.ColorGrayToBGR)
	}
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(bgr, &resized, rect.Size(), 0, 0, gocv.InterpolationArea)

	roi := canvas.Region(rect)
	defer roi.Close()
	resized.CopyTo(&roi)
}

// DrawStats writes curvature, offset and tracking state onto img.
func (c *Composer) DrawStats(img *gocv.Mat, g iface.Geometry, offset int, col color.RGBA) {
	for i, line := range StatsLines(g) {
		org := image.Pt(30, offset+40+i*40)
		gocv.PutText(img, line, org, gocv.FontHersheyDuplex, c.FontScale, col, c.Thickness)
	}
}

// StatsLines formats the lane statistics shown on output frames.
func StatsLines(g iface.Geometry) []string {
	// positive offset puts the lane center left of the camera, so the vehicle sits right
	vehicle := "right"
	if g.Offset < 0 {
		vehicle = "left"
	}
	position := fmt.Sprintf("Vehicle is %.2f m %s of lane center", math.Abs(g.Offset), vehicle)
	if !g.OffsetValid {
		position = "Vehicle position unknown"
	}
	return []string{
		fmt.Sprintf("Radius of curvature: left %s, right %s", formatRadius(g.LeftRadius), formatRadius(g.RightRadius)),
		position,
		fmt.Sprintf("Left: %s, %d failures  Right: %s, %d failures",
			trackState(g.LeftConfident), g.LeftFailures, trackState(g.RightConfident), g.RightFailures),
	}
}

func formatRadius(r float64) string {
	if r >= 10000 {
		return "straight"
	}
	return fmt.Sprintf("%.0f m", r)
}

func trackState(confident bool) string {
	if confident {
		return "tracking"
	}
	return "searching"
}
