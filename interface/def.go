package iface

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Geometry is the per-frame summary handed to downstream consumers.
type Geometry struct {
	Frame             int64      `json:"frame"`
	LeftRadius        float64    `json:"leftRadius"`
	RightRadius       float64    `json:"rightRadius"`
	Offset            float64    `json:"offset"`
	LaneWidth         float64    `json:"laneWidth"`
	OffsetValid       bool       `json:"offsetValid"` // both boundaries fitted
	LeftCoefficients  [3]float64 `json:"leftCoefficients"`
	RightCoefficients [3]float64 `json:"rightCoefficients"`
	LeftConfident     bool       `json:"leftConfident"`
	RightConfident    bool       `json:"rightConfident"`
	LeftFailures      int        `json:"leftFailures"`
	RightFailures     int        `json:"rightFailures"`
	LeftInliers       int        `json:"leftInliers"`
	RightInliers      int        `json:"rightInliers"`
	LeftMode          string     `json:"leftMode"`
	RightMode         string     `json:"rightMode"`
	LeftAccepted      bool       `json:"leftAccepted"`
	RightAccepted     bool       `json:"rightAccepted"`
	CrossCheckPassed  bool       `json:"crossCheckPassed"`
}

// Views are the intermediate images of a frame, kept for diagnostics.
type Views struct {
	RoadView    gocv.Mat // undistorted frame warped to the road plane
	Mask        gocv.Mat // binary lane-pixel mask, single channel
	RoadOverlay gocv.Mat // road view with the fitted lane drawn in
}

// FrameResult is owned by the processor that produced it; its Mats stay valid until
// the same processor handles its next frame.
type FrameResult struct {
	Geometry  Geometry
	Annotated gocv.Mat
	Views     Views
}

// Processor is one lane-tracking session: frames must arrive once each, in order.
type Processor interface {
	Process(frame gocv.Mat) (*FrameResult, error)
	Latest() *FrameResult
	Reset()
	Close() error
}

var ErrInputDimension = errors.New("input dimension mismatch")

// InputDimensionError reports a frame whose size differs from the calibrated size.
type InputDimensionError struct {
	Op   string
	Want image.Point
	Got  image.Point
}

func (e *InputDimensionError) Error() string {
	return fmt.Sprintf("%s: frame is %dx%d, expected %dx%d", e.Op, e.Got.X, e.Got.Y, e.Want.X, e.Want.Y)
}

func (e *InputDimensionError) Is(target error) bool {
	return target == ErrInputDimension
}

// CheckSize returns an *InputDimensionError when frame is not want.X by want.Y.
func CheckSize(op string, frame gocv.Mat, want image.Point) error {
	got := image.Pt(frame.Cols(), frame.Rows())
	if got != want {
		return &InputDimensionError{Op: op, Want: want, Got: got}
	}
	return nil
}
