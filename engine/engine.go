package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	iface "LaneFinder/interface"
	"LaneFinder/logger"
	"LaneFinder/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type worker struct {
	mu        sync.Mutex
	id        int
	State     int
	owner     *Session
	processor iface.Processor
}

// Session binds a client to one worker until released.
type Session struct {
	id      string
	pool    *Pool
	worker  *worker
	created time.Time

	mu         sync.Mutex
	lastActive time.Time
	frames     int64
	closers    []func()

	cancelTimer chan struct{}
	cancelOnce  sync.Once
	closeOnce   sync.Once
}

// Pool hands out a fixed set of workers to sessions.
type Pool struct {
	opts Options

	seqMu   sync.Mutex
	workers []*worker

	sessionMu sync.RWMutex
	sessions  map[string]*Session
}

func NewPool(factory Factory, opts Options) (*Pool, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("engine: need at least one worker, got %d", opts.Workers)
	}
	p := &Pool{
		opts:     opts,
		sessions: map[string]*Session{},
	}
	for i := 0; i < opts.Workers; i++ {
		proc, err := factory()
		if err != nil {
			_ = p.closeProcessors()
			return nil, fmt.Errorf("engine: create worker %d: %w", i, err)
		}
		p.workers = append(p.workers, &worker{id: i, State: IDLE, processor: proc})
	}
	logger.Log().Info("worker pool ready", zap.Int("workers", opts.Workers), zap.Duration("idleTimeout", opts.IdleTimeout))
	return p, nil
}

func (p *Pool) IdleTimeout() time.Duration { return p.opts.IdleTimeout }

// Alloc binds a new session to an idle worker with a freshly reset processor.
func (p *Pool) Alloc() (*Session, error) {
	p.seqMu.Lock()
	var chosen *worker
	for _, w := range p.workers {
		w.mu.Lock()
		if w.State == IDLE {
			w.State = BUSY
			chosen = w
			break
		}
		w.mu.Unlock()
	}
	p.seqMu.Unlock()
	if chosen == nil {
		return nil, ErrNoIdleWorker
	}

	now := time.Now()
	s := &Session{
		id:          uuid.New().String(),
		pool:        p,
		worker:      chosen,
		created:     now,
		lastActive:  now,
		cancelTimer: make(chan struct{}),
	}
	chosen.owner = s
	chosen.processor.Reset()
	chosen.mu.Unlock()

	p.sessionMu.Lock()
	p.sessions[s.id] = s
	p.sessionMu.Unlock()
	monitor.ActiveSessions.Inc()

	if p.opts.IdleTimeout > 0 {
		p.startIdleMonitor(s)
	}
	logger.Log().Info("session allocated", zap.String("session", s.id), zap.Int("worker", chosen.id))
	return s, nil
}

func (p *Pool) Get(id string) (*Session, error) {
	p.sessionMu.RLock()
	s, ok := p.sessions[id]
	p.sessionMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Release gives the session's worker back to the pool.
func (p *Pool) Release(id string) error {
	p.sessionMu.Lock()
	s, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	p.sessionMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.cancelOnce.Do(func() {
		close(s.cancelTimer)
	})
	s.closeOnce.Do(func() {
		s.mu.Lock()
		closers := s.closers
		s.closers = nil
		s.mu.Unlock()
		for _, fn := range closers {
			fn()
		}
	})

	w := s.worker
	w.mu.Lock()
	w.owner = nil
	w.processor.Reset()
	w.State = IDLE
	w.mu.Unlock()
	monitor.ActiveSessions.Dec()

	logger.Log().Info("session released", zap.String("session", id), zap.Int64("frames", s.Frames()))
	if p.opts.OnRelease != nil {
		p.opts.OnRelease(id)
	}
	return nil
}

func (p *Pool) Sessions() []Info {
	p.sessionMu.RLock()
	list := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		list = append(list, s)
	}
	p.sessionMu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	return infos
}

func (p *Pool) Workers() []WorkerInfo {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		w.mu.Lock()
		info := WorkerInfo{ID: w.id, State: StateName(w.State)}
		if w.owner != nil {
			info.Session = w.owner.id
		}
		w.mu.Unlock()
		infos = append(infos, info)
	}
	return infos
}

// Close releases every session and closes the processors.
func (p *Pool) Close() error {
	p.sessionMu.RLock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.sessionMu.RUnlock()
	for _, id := range ids {
		_ = p.Release(id)
	}
	return p.closeProcessors()
}

func (p *Pool) closeProcessors() error {
	var errs []error
	for _, w := range p.workers {
		w.mu.Lock()
		if err := w.processor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.id, err))
		}
		w.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (p *Pool) startIdleMonitor(s *Session) {
	tick := p.opts.IdleTimeout / 20
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.cancelTimer:
				return
			case <-ticker.C:
				if time.Since(s.LastActive()) > p.opts.IdleTimeout {
					logger.Log().Info("session idle, releasing", zap.String("session", s.id))
					_ = p.Release(s.id)
					return
				}
			}
		}
	}()
}

func (s *Session) ID() string { return s.id }

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		Worker:     s.worker.id,
		Created:    s.created,
		LastActive: s.lastActive,
		Frames:     s.frames,
	}
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// OnClose registers fn to run once when the session is released.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Process runs one frame and returns its geometry.
func (s *Session) Process(frame gocv.Mat) (iface.Geometry, error) {
	var g iface.Geometry
	err := s.ProcessWith(frame, func(r *iface.FrameResult) error {
		g = r.Geometry
		return nil
	})
	return g, err
}

// ProcessWith runs one frame and hands the result to use while the worker
// is still held, so the result's images stay valid for the whole call.
func (s *Session) ProcessWith(frame gocv.Mat, use func(*iface.FrameResult) error) error {
	w := s.worker
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.owner != s {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	s.Touch()

	start := time.Now()
	res, err := s.run(w, frame)
	if err != nil {
		monitor.FrameErrors.Inc()
		return err
	}
	monitor.ObserveFrame(res.Geometry, time.Since(start))

	s.mu.Lock()
	s.frames++
	s.mu.Unlock()

	if rec := s.pool.opts.Recorder; rec != nil {
		if err := rec.RecordFrame(s.id, res.Geometry); err != nil {
			logger.Log().Error("record frame", zap.String("session", s.id), zap.Error(err))
		}
	}
	if pub := s.pool.opts.Publisher; pub != nil {
		pub.Publish(s.id, res.Geometry)
	}
	if use != nil {
		return use(res)
	}
	return nil
}

// Latest returns the geometry of the newest processed frame.
func (s *Session) Latest() (iface.Geometry, bool) {
	w := s.worker
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.owner != s {
		return iface.Geometry{}, false
	}
	r := w.processor.Latest()
	if r == nil {
		return iface.Geometry{}, false
	}
	return r.Geometry, true
}

// run keeps a panicking processor from taking the server down. The
// processor is reset afterwards since its state is unknown.
func (s *Session) run(w *worker, frame gocv.Mat) (res *iface.FrameResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic", zap.Int("worker", w.id), zap.String("session", s.id), zap.Any("panic", r))
			w.processor.Reset()
			res, err = nil, fmt.Errorf("worker %d panic: %v", w.id, r)
		}
	}()
	return w.processor.Process(frame)
}
