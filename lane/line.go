package lane

import (
	"errors"
	"math"

	"LaneFinder/logger"

	"go.uber.org/zap"
)

// Reasons a fit was rejected.
const (
	RejectNone       = ""
	RejectFewInliers = "too few inlier pixels"
	RejectDegenerate = "degenerate fit"
	RejectJump       = "coefficient jump"
	RejectCrossCheck = "inconsistent with opposite lane"
)

// Outcome describes one Line.Update.
type Outcome struct {
	Side     Side
	Mode     SearchMode
	Accepted bool
	Reason   string
	Inliers  int
	Fit      Coefficients // raw fit of this frame, zero when none was possible
}

// Rejected reports whether the frame counted as a failure for this side.
func (o Outcome) Rejected() bool { return !o.Accepted }

// Line is the persistent state of one lane boundary. It must see every frame of a
// stream once and in order; it is not safe for concurrent use.
type Line struct {
	side      Side
	cfg       Config
	smoothed  Coefficients
	hasFit    bool
	confident bool
	inliers   []Point
	history   *history
	failures  int
	undo      *lineSnapshot
}

type lineSnapshot struct {
	smoothed  Coefficients
	hasFit    bool
	confident bool
	inliers   []Point
	history   *history
	failures  int
}

func NewLine(side Side, cfg Config) *Line {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	return &Line{side: side, cfg: cfg, history: newHistory(cfg.HistorySize)}
}

func (l *Line) Side() Side { return l.side }

// Coefficients returns the smoothed fit.
func (l *Line) Coefficients() Coefficients { return l.smoothed }

// HasFit reports whether any fit was ever accepted.
func (l *Line) HasFit() bool { return l.hasFit }

func (l *Line) Confident() bool { return l.confident }

// Failures is the number of consecutive rejected frames.
func (l *Line) Failures() int { return l.failures }

// Inliers returns the pixels of the last accepted fit.
func (l *Line) Inliers() []Point { return l.inliers }

// History returns the accepted fits, oldest first.
func (l *Line) History() []Coefficients { return l.history.entries() }

func (l *Line) Reset() {
	l.smoothed = Coefficients{}
	l.hasFit = false
	l.confident = false
	l.inliers = nil
	l.history.reset()
	l.failures = 0
	l.undo = nil
}

// Update searches the mask, fits, validates and smooths.
func (l *Line) Update(m Mask) Outcome {
	l.undo = nil
	out := Outcome{Side: l.side, Mode: ColdStart}

	var pts []Point
	if l.confident {
		out.Mode = Warm
		pts = localSearch(m, l.smoothed, l.cfg.SearchMargin)
	} else {
		pts = slidingWindow(m, l.side, l.cfg)
	}
	out.Inliers = len(pts)

	if len(pts) < l.cfg.MinInliers {
		out.Reason = RejectFewInliers
		l.reject(out.Reason)
		return out
	}
	fit, err := Fit(pts)
	if err != nil {
		if !errors.Is(err, ErrDegenerateFit) {
			logger.Log().Error("lane fit failed", zap.Stringer("side", l.side), zap.Error(err))
		}
		out.Reason = RejectDegenerate
		l.reject(out.Reason)
		return out
	}
	out.Fit = fit

	if l.confident {
		if prev, ok := l.history.newest(); ok && jumped(prev, fit, l.cfg.MaxCoefficientDelta) {
			out.Reason = RejectJump
			l.reject(out.Reason)
			return out
		}
	}

	l.accept(fit, pts)
	out.Accepted = true
	return out
}

func jumped(prev, next, limit Coefficients) bool {
	for i := range prev {
		if math.Abs(next[i]-prev[i]) >= limit[i] {
			return true
		}
	}
	return false
}

func (l *Line) accept(fit Coefficients, pts []Point) {
	l.undo = &lineSnapshot{
		smoothed:  l.smoothed,
		hasFit:    l.hasFit,
		confident: l.confident,
		inliers:   l.inliers,
		history:   l.history.clone(),
		failures:  l.failures,
	}
	if !l.confident {
		// reacquired after a loss: stale fits would drag the mean
		l.history.reset()
	}
	l.history.push(fit)
	l.smoothed = l.history.mean()
	l.hasFit = true
	l.confident = true
	l.failures = 0
	l.inliers = pts
}

func (l *Line) reject(reason string) {
	l.failures++
	if l.confident && l.failures > l.cfg.MaxFailures {
		l.confident = false
		logger.Log().Warn("lane tracking lost, forcing cold start",
			zap.Stringer("side", l.side),
			zap.Int("failures", l.failures),
			zap.String("reason", reason))
	}
}

// Rollback undoes the acceptance made by the latest Update and counts the frame as a
// failure instead. It reports false when the latest Update did not accept a fit.
func (l *Line) Rollback() bool {
	if l.undo == nil {
		return false
	}
	s := l.undo
	l.undo = nil
	l.smoothed = s.smoothed
	l.hasFit = s.hasFit
	l.confident = s.confident
	l.inliers = s.inliers
	l.history = s.history
	l.failures = s.failures
	l.reject(RejectCrossCheck)
	return true
}
