package calibration

import (
	"errors"
	"fmt"
	"image"
)

var ErrNoPattern = errors.New("calibration pattern not found")

// CalibrationError is returned when no image yields a usable chessboard.
type CalibrationError struct {
	Images  int
	Pattern image.Point
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration: no %dx%d chessboard found in %d images", e.Pattern.X, e.Pattern.Y, e.Images)
}

func (e *CalibrationError) Is(target error) bool {
	return target == ErrNoPattern
}
