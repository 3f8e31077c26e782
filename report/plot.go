package report

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"LaneFinder/logger"
	"LaneFinder/store"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var ErrNoFrames = errors.New("no frames to plot")

var (
	leftColor   = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	rightColor  = color.RGBA{R: 30, G: 60, B: 200, A: 255}
	offsetColor = color.RGBA{R: 20, G: 140, B: 60, A: 255}
)

// PlotSession draws lane curvature and vehicle offset against frame index
// into a PNG at path.
func PlotSession(records []store.Record, path string) error {
	if len(records) == 0 {
		return ErrNoFrames
	}
	leftPts := make(plotter.XYs, 0, len(records))
	rightPts := make(plotter.XYs, 0, len(records))
	offsetPts := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		x := float64(r.Frame)
		leftPts = append(leftPts, plotter.XY{X: x, Y: curvature(r.LeftRadius)})
		rightPts = append(rightPts, plotter.XY{X: x, Y: curvature(r.RightRadius)})
		if r.OffsetValid {
			offsetPts = append(offsetPts, plotter.XY{X: x, Y: r.Offset})
		}
	}

	pCurv := plot.New()
	pCurv.Title.Text = "Lane curvature"
	pCurv.X.Label.Text = "frame"
	pCurv.Y.Label.Text = "curvature (1/m)"
	pOff := plot.New()
	pOff.Title.Text = "Vehicle offset"
	pOff.X.Label.Text = "frame"
	pOff.Y.Label.Text = "offset (m, + = left of lane center)"

	for _, s := range []struct {
		p     *plot.Plot
		label string
		pts   plotter.XYs
		col   color.Color
	}{
		{pCurv, "left", leftPts, leftColor},
		{pCurv, "right", rightPts, rightColor},
		{pOff, "offset", offsetPts, offsetColor},
	} {
		if len(s.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.label, err)
		}
		line.Color = s.col
		line.Width = vg.Points(1)
		s.p.Add(line)
		s.p.Legend.Add(s.label, line)
	}
	pCurv.Add(plotter.NewGrid())
	pOff.Add(plotter.NewGrid())
	for _, p := range []*plot.Plot{pCurv, pOff} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	img := vgimg.New(14*vg.Inch, 8*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadTop: vg.Points(4), PadBottom: vg.Points(4), PadY: vg.Points(12)}
	canvases := plot.Align([][]*plot.Plot{{pCurv}, {pOff}}, tiles, dc)
	pCurv.Draw(canvases[0][0])
	pOff.Draw(canvases[1][0])

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Session plots the stored frames of session into dir/<session>.png.
func Session(st *store.Store, session, dir string) (string, error) {
	records, err := st.Frames(session)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, session+".png")
	if err := PlotSession(records, path); err != nil {
		return "", err
	}
	logger.Log().Info("session report written", zap.String("session", session), zap.String("path", path), zap.Int("frames", len(records)))
	return path, nil
}

func curvature(radius float64) float64 {
	if radius == 0 {
		return 0
	}
	return 1 / radius
}
