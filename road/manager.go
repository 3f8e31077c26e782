package road

import (
	"fmt"
	"math"

	"LaneFinder/calibration"
	"LaneFinder/detect"
	iface "LaneFinder/interface"
	"LaneFinder/lane"
	"LaneFinder/logger"
	"LaneFinder/perspective"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Manager runs the per-frame pipeline for one video stream. Camera and projection are
// shared read-only; everything else belongs to this session.
type Manager struct {
	cfg     Config
	camera  *calibration.Model
	proj    *perspective.Transformer
	det     *detect.Detector
	tracker *lane.Tracker
	frame   int64
	latest  *iface.FrameResult

	undistorted gocv.Mat
	roadView    gocv.Mat
	mask        gocv.Mat
	layer       gocv.Mat
	layerCamera gocv.Mat
	roadOverlay gocv.Mat
	annotated   gocv.Mat
}

var _ iface.Processor = (*Manager)(nil)

func NewManager(camera *calibration.Model, proj *perspective.Transformer, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if camera.Size() != proj.Size() {
		return nil, fmt.Errorf("road: calibration size %v differs from projection size %v", camera.Size(), proj.Size())
	}
	det, err := detect.New(cfg.Detector)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:         cfg,
		camera:      camera,
		proj:        proj,
		det:         det,
		tracker:     lane.NewTracker(cfg.Tracker),
		undistorted: gocv.NewMat(),
		roadView:    gocv.NewMat(),
		mask:        gocv.NewMat(),
		layer:       gocv.NewMat(),
		layerCamera: gocv.NewMat(),
		roadOverlay: gocv.NewMat(),
		annotated:   gocv.NewMat(),
	}, nil
}

func (m *Manager) Tracker() *lane.Tracker { return m.tracker }

// Process runs one BGR frame through the pipeline. The result stays valid until the next call.
func (m *Manager) Process(frame gocv.Mat) (*iface.FrameResult, error) {
	if frame.Channels() != 3 {
		return nil, fmt.Errorf("road: frame must be 3-channel BGR, got %d channels", frame.Channels())
	}
	if err := m.camera.Undistort(frame, &m.undistorted); err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.frame, err)
	}
	if err := m.proj.ToRoadView(m.undistorted, &m.roadView); err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.frame, err)
	}

	mask, err := m.det.ExtractMask(m.roadView)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.frame, err)
	}
	m.mask.Close()
	m.mask = mask

	laneMask, err := detect.ToLaneMask(m.mask)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.frame, err)
	}
	left, right := m.tracker.Update(laneMask)
	passed := m.crossCheck(&left, &right)

	if err := m.draw(); err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.frame, err)
	}

	size := m.proj.Size()
	g := m.tracker.Geometry(size.X, size.Y, m.cfg.Scale)
	ll, rl := m.tracker.Line(lane.Left), m.tracker.Line(lane.Right)
	m.latest = &iface.FrameResult{
		Geometry: iface.Geometry{
			Frame:             m.frame,
			LeftRadius:        g.LeftRadius,
			RightRadius:       g.RightRadius,
			Offset:            g.Offset,
			LaneWidth:         g.Width,
			OffsetValid:       g.OffsetValid,
			LeftCoefficients:  ll.Coefficients(),
			RightCoefficients: rl.Coefficients(),
			LeftConfident:     ll.Confident(),
			RightConfident:    rl.Confident(),
			LeftFailures:      ll.Failures(),
			RightFailures:     rl.Failures(),
			LeftInliers:       len(ll.Inliers()),
			RightInliers:      len(rl.Inliers()),
			LeftMode:          left.Mode.String(),
			RightMode:         right.Mode.String(),
			LeftAccepted:      left.Accepted,
			RightAccepted:     right.Accepted,
			CrossCheckPassed:  passed,
		},
		Annotated: m.annotated,
		Views: iface.Views{
			RoadView:    m.roadView,
			Mask:        m.mask,
			RoadOverlay: m.roadOverlay,
		},
	}
	m.frame++
	return m.latest, nil
}

// crossCheck compares the two smoothed boundaries after this frame's updates. When they
// disagree, the newly accepted side with fewer inliers is rolled back. It reports false
// only when a rollback happened.
func (m *Manager) crossCheck(left, right *lane.Outcome) bool {
	ll, rl := m.tracker.Line(lane.Left), m.tracker.Line(lane.Right)
	if !left.Accepted && !right.Accepted {
		return true
	}
	if !ll.HasFit() || !rl.HasFit() {
		return true
	}

	size := m.proj.Size()
	g := m.tracker.Geometry(size.X, size.Y, m.cfg.Scale)
	cc := m.cfg.CrossCheck
	curvatureDelta := math.Abs(1/g.LeftRadius - 1/g.RightRadius)
	if g.Width >= cc.MinLaneWidth && g.Width <= cc.MaxLaneWidth && curvatureDelta <= cc.MaxCurvatureDelta {
		return true
	}

	victim, line := left, ll
	if !left.Accepted || (right.Accepted && right.Inliers < left.Inliers) {
		victim, line = right, rl
	}
	line.Rollback()
	victim.Accepted = false
	victim.Reason = lane.RejectCrossCheck

	logger.Log().Debug("cross check failed",
		zap.Int64("frame", m.frame),
		zap.Stringer("rolledBack", victim.Side),
		zap.Float64("laneWidth", g.Width),
		zap.Float64("curvatureDelta", curvatureDelta))
	return false
}

// Latest returns the most recent result, nil before the first frame.
func (m *Manager) Latest() *iface.FrameResult { return m.latest }

func (m *Manager) Reset() {
	m.tracker.Reset()
	m.frame = 0
	m.latest = nil
}

func (m *Manager) Close() error {
	for _, mat := range []*gocv.Mat{
		&m.undistorted, &m.roadView, &m.mask, &m.layer,
		&m.layerCamera, &m.roadOverlay, &m.annotated,
	} {
		mat.Close()
	}
	m.latest = nil
	return nil
}
