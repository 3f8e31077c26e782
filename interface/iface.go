package iface

import (
	"fmt"

	"gocv.io/x/gocv"
)

// DiagnosticMode selects what the output frame shows.
type DiagnosticMode struct {
	ShowFilterView     bool `yaml:"showFilterView" json:"showFilterView"`
	ShowProjectionView bool `yaml:"showProjectionView" json:"showProjectionView"`
	ShowFullMosaic     bool `yaml:"showFullMosaic" json:"showFullMosaic"`
	ShowTextOverlay    bool `yaml:"showTextOverlay" json:"showTextOverlay"`
}

// ModeFromLevel maps the command-line level (0 off, 1 filter, 2 projection, 3 full).
func ModeFromLevel(level int, text bool) (DiagnosticMode, error) {
	m := DiagnosticMode{ShowTextOverlay: text}
	switch level {
	case 0:
	case 1:
		m.ShowFilterView = true
	case 2:
		m.ShowProjectionView = true
	case 3:
		m.ShowFullMosaic = true
	default:
		return DiagnosticMode{}, fmt.Errorf("diagnostic level must be 0..3, got %d", level)
	}
	return m, nil
}

func (m DiagnosticMode) Validate() error {
	n := 0
	for _, on := range []bool{m.ShowFilterView, m.ShowProjectionView, m.ShowFullMosaic} {
		if on {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("at most one diagnostic view may be selected, got %d", n)
	}
	return nil
}

// Diagnosing reports whether a diagnostic view replaces the annotated frame.
func (m DiagnosticMode) Diagnosing() bool {
	return m.ShowFilterView || m.ShowProjectionView || m.ShowFullMosaic
}

// DiagnosticView is one of FilterView, ProjectionView or FullMosaic.
type DiagnosticView interface {
	isDiagnosticView()
}

// FilterView shows the mask beside the road view.
type FilterView struct {
	Mask     gocv.Mat
	RoadView gocv.Mat
}

// ProjectionView shows the fitted road view beside the annotated frame.
type ProjectionView struct {
	RoadOverlay gocv.Mat
	Annotated   gocv.Mat
}

// FullMosaic shows every stage.
type FullMosaic struct {
	Mask        gocv.Mat
	RoadView    gocv.Mat
	RoadOverlay gocv.Mat
	Annotated   gocv.Mat
}

func (FilterView) isDiagnosticView()     {}
func (ProjectionView) isDiagnosticView() {}
func (FullMosaic) isDiagnosticView()     {}

// ViewFor builds the view selected by mode from r; ok is false when mode shows no view.
func ViewFor(mode DiagnosticMode, r *FrameResult) (view DiagnosticView, ok bool) {
	switch {
	case mode.ShowFilterView:
		return FilterView{Mask: r.Views.Mask, RoadView: r.Views.RoadView}, true
	case mode.ShowProjectionView:
		return ProjectionView{RoadOverlay: r.Views.RoadOverlay, Annotated: r.Annotated}, true
	case mode.ShowFullMosaic:
		return FullMosaic{
			Mask:        r.Views.Mask,
			RoadView:    r.Views.RoadView,
			RoadOverlay: r.Views.RoadOverlay,
			Annotated:   r.Annotated,
		}, true
	}
	return nil, false
}
