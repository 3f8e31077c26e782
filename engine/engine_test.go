package engine

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	iface "LaneFinder/interface"
	"LaneFinder/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func init() {
	logger.InitDevelopment()
}

type MockProcessor struct {
	mu     sync.Mutex
	frames int64
	resets int
	closed bool
	panics bool
	latest *iface.FrameResult
}

func (m *MockProcessor) Process(frame gocv.Mat) (*iface.FrameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics {
		panic("mock processor exploded")
	}
	if frame.Empty() {
		return nil, iface.ErrInputDimension
	}
	m.latest = &iface.FrameResult{Geometry: iface.Geometry{
		Frame:         m.frames,
		Offset:        0.1,
		LeftAccepted:  true,
		RightAccepted: true,
		LeftMode:      "cold",
		RightMode:     "cold",
	}}
	m.frames++
	return m.latest, nil
}

func (m *MockProcessor) Latest() *iface.FrameResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *MockProcessor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = 0
	m.latest = nil
	m.resets++
}

func (m *MockProcessor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type recorded struct {
	session string
	frame   int64
}

type mockSink struct {
	mu   sync.Mutex
	seen []recorded
}

func (k *mockSink) RecordFrame(session string, g iface.Geometry) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seen = append(k.seen, recorded{session, g.Frame})
	return nil
}

func (k *mockSink) Publish(session string, g iface.Geometry) {
	_ = k.RecordFrame(session, g)
}

func (k *mockSink) Seen() []recorded {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]recorded(nil), k.seen...)
}

func newTestPool(t *testing.T, opts Options) (*Pool, []*MockProcessor) {
	t.Helper()
	var procs []*MockProcessor
	p, err := NewPool(func() (iface.Processor, error) {
		m := &MockProcessor{}
		procs = append(procs, m)
		return m, nil
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, procs
}

func frame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAllocUntilExhausted(t *testing.T) {
	p, procs := newTestPool(t, Options{Workers: 2})

	a, err := p.Alloc()
	require.NoError(t, err)
	b, err := p.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	_, err = p.Alloc()
	assert.ErrorIs(t, err, ErrNoIdleWorker)

	for _, w := range p.Workers() {
		assert.Equal(t, "BUSY", w.State)
	}
	for _, m := range procs {
		assert.Equal(t, 1, m.resets, "processor reset on alloc")
	}

	require.NoError(t, p.Release(a.ID()))
	c, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, a.Info().Worker, c.Info().Worker, "released worker reused")
}

func TestProcessRecordsAndPublishes(t *testing.T) {
	rec, pub := &mockSink{}, &mockSink{}
	p, _ := newTestPool(t, Options{Workers: 1, Recorder: rec, Publisher: pub})
	s, err := p.Alloc()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		g, err := s.Process(frame(t))
		require.NoError(t, err)
		assert.Equal(t, int64(i), g.Frame)
	}
	assert.Equal(t, int64(3), s.Frames())
	want := []recorded{{s.ID(), 0}, {s.ID(), 1}, {s.ID(), 2}}
	assert.Equal(t, want, rec.Seen())
	assert.Equal(t, want, pub.Seen())

	g, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2), g.Frame)
}

func TestProcessErrorIsNotRecorded(t *testing.T) {
	rec := &mockSink{}
	p, _ := newTestPool(t, Options{Workers: 1, Recorder: rec})
	s, err := p.Alloc()
	require.NoError(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = s.Process(empty)
	assert.ErrorIs(t, err, iface.ErrInputDimension)
	assert.Empty(t, rec.Seen())
	assert.Equal(t, int64(0), s.Frames())
}

func TestReleasedSessionRejectsFrames(t *testing.T) {
	p, _ := newTestPool(t, Options{Workers: 1})
	s, err := p.Alloc()
	require.NoError(t, err)
	closed := 0
	s.OnClose(func() { closed++ })

	require.NoError(t, p.Release(s.ID()))
	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, p.Release(s.ID()), ErrSessionNotFound)

	_, err = s.Process(frame(t))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = p.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// a new session on the same worker must not be reachable through the old handle
	n, err := p.Alloc()
	require.NoError(t, err)
	_, err = s.Process(frame(t))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = n.Process(frame(t))
	assert.NoError(t, err)
}

func TestIdleSessionReleased(t *testing.T) {
	released := make(chan string, 1)
	p, _ := newTestPool(t, Options{
		Workers:     1,
		IdleTimeout: 50 * time.Millisecond,
		OnRelease:   func(id string) { released <- id },
	})
	s, err := p.Alloc()
	require.NoError(t, err)

	select {
	case id := <-released:
		assert.Equal(t, s.ID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was not released")
	}
	assert.Empty(t, p.Sessions())
	assert.Equal(t, "IDLE", p.Workers()[0].State)
}

func TestPanicIsRecovered(t *testing.T) {
	p, procs := newTestPool(t, Options{Workers: 1})
	s, err := p.Alloc()
	require.NoError(t, err)

	procs[0].mu.Lock()
	procs[0].panics = true
	procs[0].mu.Unlock()
	_, err = s.Process(frame(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	procs[0].mu.Lock()
	procs[0].panics = false
	procs[0].mu.Unlock()
	g, err := s.Process(frame(t))
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.Frame, "processor reset after panic")
}

func TestCloseReleasesAndClosesProcessors(t *testing.T) {
	p, procs := newTestPool(t, Options{Workers: 2})
	_, err := p.Alloc()
	require.NoError(t, err)
	require.Len(t, p.Sessions(), 1)

	require.NoError(t, p.Close())
	assert.Empty(t, p.Sessions())
	for _, m := range procs {
		assert.True(t, m.closed)
	}
}

func TestNewPoolFactoryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewPool(func() (iface.Processor, error) { return nil, boom }, Options{Workers: 1})
	assert.ErrorIs(t, err, boom)

	_, err = NewPool(func() (iface.Processor, error) { return &MockProcessor{}, nil }, Options{})
	assert.Error(t, err)
}

func TestBase64ToMat(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 16, 24, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(".png", img)
	require.NoError(t, err)
	defer buf.Close()
	b64 := base64.StdEncoding.EncodeToString(buf.GetBytes())

	for name, in := range map[string]string{
		"plain":    b64,
		"data url": "data:image/png;base64," + b64,
	} {
		t.Run(name, func(t *testing.T) {
			m, err := Base64ToMat(in)
			require.NoError(t, err)
			defer m.Close()
			assert.Equal(t, 16, m.Rows())
			assert.Equal(t, 24, m.Cols())
			assert.Equal(t, img.ToBytes(), m.ToBytes())
		})
	}

	_, err = Base64ToMat("!!not base64")
	assert.Error(t, err)
	_, err = DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}
