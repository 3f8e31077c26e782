package iface

import (
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestModeFromLevel(t *testing.T) {
	cases := []struct {
		level int
		want  DiagnosticMode
	}{
		{0, DiagnosticMode{ShowTextOverlay: true}},
		{1, DiagnosticMode{ShowFilterView: true, ShowTextOverlay: true}},
		{2, DiagnosticMode{ShowProjectionView: true, ShowTextOverlay: true}},
		{3, DiagnosticMode{ShowFullMosaic: true, ShowTextOverlay: true}},
	}
	for _, tc := range cases {
		got, err := ModeFromLevel(tc.level, true)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.NoError(t, got.Validate())
		assert.Equal(t, tc.level != 0, got.Diagnosing())
	}

	_, err := ModeFromLevel(4, false)
	assert.Error(t, err)
}

func TestDiagnosticModeValidate(t *testing.T) {
	m := DiagnosticMode{ShowFilterView: true, ShowFullMosaic: true}
	assert.Error(t, m.Validate())
}

func TestViewFor(t *testing.T) {
	r := &FrameResult{}
	_, ok := ViewFor(DiagnosticMode{ShowTextOverlay: true}, r)
	assert.False(t, ok)

	v, ok := ViewFor(DiagnosticMode{ShowProjectionView: true}, r)
	require.True(t, ok)
	assert.IsType(t, ProjectionView{}, v)

	v, ok = ViewFor(DiagnosticMode{ShowFullMosaic: true}, r)
	require.True(t, ok)
	assert.IsType(t, FullMosaic{}, v)
}

func TestCheckSize(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	assert.NoError(t, CheckSize("undistort", frame, image.Pt(64, 48)))

	err := CheckSize("undistort", frame, image.Pt(1280, 720))
	require.Error(t, err)
	assert.True(t, errors.Is(fmt.Errorf("frame 3: %w", err), ErrInputDimension))

	var dimErr *InputDimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, image.Pt(64, 48), dimErr.Got)
	assert.Contains(t, err.Error(), "64x48")
}
