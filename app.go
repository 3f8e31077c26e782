package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"LaneFinder/calibration"
	"LaneFinder/config"
	"LaneFinder/diag"
	"LaneFinder/engine"
	lanerpc "LaneFinder/gRPC"
	iface "LaneFinder/interface"
	"LaneFinder/logger"
	"LaneFinder/monitor"
	"LaneFinder/perspective"
	"LaneFinder/report"
	"LaneFinder/road"
	"LaneFinder/sink"
	"LaneFinder/store"
	"LaneFinder/video"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// App holds what every mode shares: the calibrated camera, the road
// projection and the optional run log.
type App struct {
	cfg      config.Config
	camera   *calibration.Model
	proj     *perspective.Transformer
	composer *diag.Composer
	runlog   *store.Store
	pool     *engine.Pool

	reports sync.WaitGroup
}

func NewApp(cfg config.Config, camera *calibration.Model) (*App, error) {
	proj, err := perspective.FromFractions(cfg.Perspective.Src, cfg.Perspective.Dst, camera.Size())
	if err != nil {
		return nil, err
	}
	composer, err := diag.NewComposer(cfg.Diagnostics)
	if err != nil {
		_ = proj.Close()
		return nil, err
	}
	a := &App{cfg: cfg, camera: camera, proj: proj, composer: composer}
	if cfg.Store.Path != "" {
		if a.runlog, err = store.Open(cfg.Store.Path); err != nil {
			_ = proj.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) newProcessor() (iface.Processor, error) {
	return road.NewManager(a.camera, a.proj, a.cfg.Road())
}

func (a *App) Close() {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			logger.Log().Error("close worker pool", zap.Error(err))
		}
	}
	a.reports.Wait()
	if a.runlog != nil {
		_ = a.runlog.Close()
	}
	_ = a.proj.Close()
	_ = a.camera.Close()
}

// RunFile processes one image or video into <dir>_out/<name>.
func (a *App) RunFile(ctx context.Context, in string) error {
	kind, err := video.Sniff(in)
	if err != nil {
		return err
	}
	out, err := video.OutputPath(in)
	if err != nil {
		return err
	}
	proc, err := a.newProcessor()
	if err != nil {
		return err
	}
	defer proc.Close()

	session := uuid.NewString()
	var records []store.Record
	fn := func(frame gocv.Mat) (gocv.Mat, error) {
		start := time.Now()
		res, err := proc.Process(frame)
		if err != nil {
			monitor.FrameErrors.Inc()
			return gocv.NewMat(), err
		}
		monitor.ObserveFrame(res.Geometry, time.Since(start))
		records = append(records, store.Record{Session: session, RecordedAt: time.Now(), Geometry: res.Geometry})
		if a.runlog != nil {
			if err := a.runlog.RecordFrame(session, res.Geometry); err != nil {
				logger.Log().Error("record frame", zap.Error(err))
			}
		}
		return a.composer.Render(res), nil
	}

	switch kind {
	case video.KindImage:
		err = video.ProcessImage(in, out, fn)
	case video.KindVideo:
		_, err = video.ProcessVideo(ctx, in, out, fn)
	}
	if err != nil {
		return err
	}
	if a.cfg.Report.Dir != "" && len(records) > 0 {
		path := filepath.Join(a.cfg.Report.Dir, session+".png")
		if err := report.PlotSession(records, path); err != nil {
			logger.Log().Error("session report", zap.Error(err))
		} else {
			logger.Log().Info("session report written", zap.String("path", path))
		}
	}
	return nil
}

// onRelease plots a finished session when both the run log and a report
// directory are configured.
func (a *App) onRelease(session string) {
	if a.runlog == nil || a.cfg.Report.Dir == "" {
		return
	}
	a.reports.Add(1)
	go func() {
		defer a.reports.Done()
		if _, err := report.Session(a.runlog, session, a.cfg.Report.Dir); err != nil && !errors.Is(err, report.ErrNoFrames) {
			logger.Log().Error("session report", zap.String("session", session), zap.Error(err))
		}
	}()
}

func (a *App) startPool(publisher *sink.Publisher) error {
	opts := engine.Options{
		Workers:     a.cfg.Server.WorkersNum,
		IdleTimeout: a.cfg.Server.IdleTimeout,
		OnRelease:   a.onRelease,
	}
	if a.runlog != nil {
		opts.Recorder = a.runlog
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	pool, err := engine.NewPool(a.newProcessor, opts)
	if err != nil {
		return err
	}
	a.pool = pool
	return nil
}

// Serve runs the HTTP, websocket, rpc and metrics endpoints until ctx is
// done or a client asks for shutdown.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var publisher *sink.Publisher
	if a.cfg.Sink.Enabled() {
		var err error
		if publisher, err = sink.New(a.cfg.Sink); err != nil {
			return err
		}
		publisher.Start(ctx)
		defer publisher.Close()
	}
	if err := a.startPool(publisher); err != nil {
		return err
	}

	go monitor.StartMon(a.cfg.Server.MetricsPort, ctx)

	rpcSrv := lanerpc.NewServer(a.pool)
	grpcServer, err := lanerpc.StartGRPCServer(a.cfg.Server.RPCPort, rpcSrv)
	if err != nil {
		return err
	}
	defer grpcServer.GracefulStop()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.HTTPPort),
		Handler: newRouter(a),
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Log().Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Log().Info("shutting down")
	case <-rpcSrv.CloseChannel:
		logger.Log().Info("shutdown requested")
	case err = <-httpErr:
		logger.Log().Error("http server failed", zap.Error(err))
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Log().Error("http shutdown", zap.Error(serr))
	}
	return err
}
