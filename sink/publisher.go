package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	iface "LaneFinder/interface"
	"LaneFinder/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	URL       string        `yaml:"url"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batchSize"`
	QueueSize int           `yaml:"queueSize"`
	Timeout   time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		BatchSize: 50,
		QueueSize: 1024,
		Timeout:   5 * time.Second,
	}
}

// Enabled reports whether a destination is configured.
func (c Config) Enabled() bool { return c.URL != "" }

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Interval <= 0 || c.BatchSize < 1 || c.QueueSize < 1 {
		return errors.New("sink needs a positive interval, batchSize and queueSize")
	}
	if c.Timeout <= 0 {
		return errors.New("sink timeout must be positive")
	}
	return nil
}

// Summary is the published form of one frame's geometry.
type Summary struct {
	Session        string  `json:"session"`
	Frame          int64   `json:"frame"`
	LeftRadius     float64 `json:"leftRadius"`
	RightRadius    float64 `json:"rightRadius"`
	Offset         float64 `json:"offset"`
	LaneWidth      float64 `json:"laneWidth"`
	OffsetValid    bool    `json:"offsetValid"`
	LeftConfident  bool    `json:"leftConfident"`
	RightConfident bool    `json:"rightConfident"`
	TimeStamp      int64   `json:"timestamp"`
}

type BatchRequest struct {
	Source string    `json:"source"`
	Items  []Summary `json:"items"`
}

type BatchResponse struct {
	Accepted int `json:"accepted"`
}

// Publisher batches summaries and posts them to Config.URL on a ticker.
// Publish never blocks; summaries are dropped when the queue is full.
type Publisher struct {
	cfg    Config
	id     string
	client *resty.Client
	queue  chan Summary

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func New(cfg Config) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("sink: no url configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Publisher{
		cfg:    cfg,
		id:     uuid.NewString(),
		client: resty.New().SetTimeout(cfg.Timeout),
		queue:  make(chan Summary, cfg.QueueSize),
		stop:   make(chan struct{}),
	}, nil
}

// Start runs the send loop until ctx is done or Close is called.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *Publisher) Publish(session string, g iface.Geometry) {
	s := Summary{
		Session:        session,
		Frame:          g.Frame,
		LeftRadius:     g.LeftRadius,
		RightRadius:    g.RightRadius,
		Offset:         g.Offset,
		LaneWidth:      g.LaneWidth,
		OffsetValid:    g.OffsetValid,
		LeftConfident:  g.LeftConfident,
		RightConfident: g.RightConfident,
		TimeStamp:      time.Now().UnixMilli(),
	}
	select {
	case p.queue <- s:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			logger.Log().Warn("sink queue full, dropping geometry", zap.String("session", session), zap.Int64("dropped", n))
		}
	}
}

// Close stops the loop after flushing what is queued.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}

func (p *Publisher) Sent() int64    { return p.sent.Load() }
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }
func (p *Publisher) Failed() int64  { return p.failed.Load() }

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("sink context cancelled, flushing")
			p.drain(context.Background())
			return
		case <-p.stop:
			p.drain(ctx)
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for len(p.queue) > 0 {
		p.flush(ctx)
	}
}

// flush sends at most one batch.
func (p *Publisher) flush(ctx context.Context) {
	batch := make([]Summary, 0, p.cfg.BatchSize)
collect:
	for len(batch) < p.cfg.BatchSize {
		select {
		case s := <-p.queue:
			batch = append(batch, s)
		default:
			break collect
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := p.safeDoRequest(ctx, batch); err != nil {
		p.failed.Add(int64(len(batch)))
		logger.Log().Error("publish geometry batch", zap.Int("items", len(batch)), zap.Error(err))
		return
	}
	p.sent.Add(int64(len(batch)))
}

func (p *Publisher) safeDoRequest(ctx context.Context, batch []Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic recovered: %v", r)
		}
	}()
	var respBody BatchResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(BatchRequest{Source: p.id, Items: batch}).
		SetResult(&respBody).
		Post(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}
