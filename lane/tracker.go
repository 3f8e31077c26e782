package lane

// Tracker owns the two Line states of one video stream.
type Tracker struct {
	cfg   Config
	left  *Line
	right *Line
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:   cfg,
		left:  NewLine(Left, cfg),
		right: NewLine(Right, cfg),
	}
}

func (t *Tracker) Config() Config { return t.cfg }

func (t *Tracker) Line(side Side) *Line {
	if side == Right {
		return t.right
	}
	return t.left
}

// Update runs both sides against the same mask.
func (t *Tracker) Update(m Mask) (left, right Outcome) {
	return t.left.Update(m), t.right.Update(m)
}

func (t *Tracker) Reset() {
	t.left.Reset()
	t.right.Reset()
}

// Geometry is the derived lane geometry for one frame, in meters.
type Geometry struct {
	LeftRadius  float64
	RightRadius float64
	Offset      float64
	Width       float64

	// OffsetValid is set when both sides have a fit. Offset and Width are zero otherwise.
	OffsetValid bool
}

// Geometry evaluates the smoothed fits at the bottom row of a width x height road view.
func (t *Tracker) Geometry(width, height int, s Scale) Geometry {
	y := float64(height - 1)
	l, r := t.left.Coefficients(), t.right.Coefficients()
	g := Geometry{
		LeftRadius:  Radius(l, y, s, t.cfg.MaxRadius),
		RightRadius: Radius(r, y, s, t.cfg.MaxRadius),
	}
	if t.left.HasFit() && t.right.HasFit() {
		g.Offset = Offset(l, r, width, height, s)
		g.Width = Width(l, r, height, s)
		g.OffsetValid = true
	}
	return g
}
