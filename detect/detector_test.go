package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	w = 200
	h = 100
)

// roadScene is a grey road with a saturated yellow bar at x 40..59 and a
// faint grey stripe at x 140..149.
func roadScene(t *testing.T) gocv.Mat {
	t.Helper()
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			b, g, r := byte(50), byte(50), byte(50)
			switch {
			case x >= 40 && x < 60:
				b, g, r = 0, 255, 255
			case x >= 140 && x < 150:
				b, g, r = 80, 80, 80
			}
			pix[i], pix[i+1], pix[i+2] = b, g, r
		}
	}
	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, pix)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestExtractMask(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	mask, err := d.ExtractMask(roadScene(t))
	require.NoError(t, err)
	defer mask.Close()
	require.Equal(t, 1, mask.Channels())

	lm, err := ToLaneMask(mask)
	require.NoError(t, err)
	row := h / 2

	for x := 40; x < 60; x++ {
		assert.True(t, lm.At(x, row), "yellow bar column %d", x)
	}
	// the faint stripe is only picked up on its edges
	for _, x := range []int{139, 140, 149, 150} {
		assert.True(t, lm.At(x, row), "stripe edge column %d", x)
	}
	for _, x := range []int{5, 20, 100, 145, 190} {
		assert.False(t, lm.At(x, row), "background column %d", x)
	}
}

func TestExtractMaskIsDeterministic(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	scene := roadScene(t)

	a, err := d.ExtractMask(scene)
	require.NoError(t, err)
	defer a.Close()
	b, err := d.ExtractMask(scene)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, a.ToBytes(), b.ToBytes())
}

func TestExtractMaskFlatImage(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 50, 50, 0), h, w, gocv.MatTypeCV8UC3)
	defer flat.Close()

	mask, err := d.ExtractMask(flat)
	require.NoError(t, err)
	defer mask.Close()
	assert.Zero(t, gocv.CountNonZero(mask))
}

func TestExtractMaskRejectsGray(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	gray := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8U)
	defer gray.Close()

	_, err = d.ExtractMask(gray)
	assert.ErrorIs(t, err, ErrChannels)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.SLow = 300
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.GradLow, c.GradHigh = 90, 10
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.SobelKernel = 4
	_, err := New(c)
	assert.Error(t, err)
}
