package lane

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrDegenerateFit = errors.New("lane: degenerate fit")

// Fit solves x = a*y^2 + b*y + c over pts by least squares.
func Fit(pts []Point) (Coefficients, error) {
	if len(pts) < 3 {
		return Coefficients{}, fmt.Errorf("%w: %d points", ErrDegenerateFit, len(pts))
	}
	rows := make(map[int]struct{}, 3)
	for _, p := range pts {
		rows[p.Y] = struct{}{}
		if len(rows) >= 3 {
			break
		}
	}
	if len(rows) < 3 {
		return Coefficients{}, fmt.Errorf("%w: fewer than 3 distinct rows", ErrDegenerateFit)
	}

	n := len(pts)
	A := mat.NewDense(n, 3, nil)
	B := mat.NewVecDense(n, nil)
	for i, p := range pts {
		y := float64(p.Y)
		A.Set(i, 0, y*y)
		A.Set(i, 1, y)
		A.Set(i, 2, 1)
		B.SetVec(i, float64(p.X))
	}

	var qr mat.QR
	qr.Factorize(A)
	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return Coefficients{}, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}

	c := Coefficients{params.AtVec(0), params.AtVec(1), params.AtVec(2)}
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Coefficients{}, fmt.Errorf("%w: non-finite coefficient", ErrDegenerateFit)
		}
	}
	return c, nil
}
