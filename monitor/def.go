package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	iface "LaneFinder/interface"
	"LaneFinder/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      process.Process
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_processed_total",
		Help: "Frames run through the lane pipeline",
	})
	FrameErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frame_errors_total",
		Help: "Frames the pipeline refused or failed on",
	})
	LaneFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_fallbacks_total",
		Help: "Frames where a side kept its previous fit",
	}, []string{"side"})
	LaneColdStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_cold_starts_total",
		Help: "Fits accepted from a sliding-window search",
	}, []string{"side"})
	FrameSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_processing_seconds",
		Help:    "Time spent in the lane pipeline per frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Sessions currently bound to a worker",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, FramesProcessed, FrameErrors,
		LaneFallbacks, LaneColdStarts, FrameSeconds, ActiveSessions)
}

// ObserveFrame records one processed frame.
func ObserveFrame(g iface.Geometry, took time.Duration) {
	FramesProcessed.Inc()
	FrameSeconds.Observe(took.Seconds())
	sides := []struct {
		name     string
		accepted bool
		mode     string
	}{
		{"left", g.LeftAccepted, g.LeftMode},
		{"right", g.RightAccepted, g.RightMode},
	}
	for _, s := range sides {
		if !s.accepted {
			LaneFallbacks.WithLabelValues(s.name).Inc()
		} else if s.mode == "cold" {
			LaneColdStarts.WithLabelValues(s.name).Inc()
		}
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func CheckProcessInfo() {
	MemInfo, err := PID.MemoryInfo()
	if err != nil {
		return
	}
	var MemMB = MemInfo.RSS / 1024 / 1024
	CPUPercent, _ := PID.CPUPercent()
	CPUPercentFloat := math.Round(CPUPercent*100) / 100
	memUsage.Set(float64(MemMB))
	cpuUsage.Set(CPUPercentFloat)
}

func GotPID() {
	pid := os.Getpid()
	i32Pid := int32(pid)
	PID.Pid = i32Pid
}

// StartMon serves /metrics on port and samples process usage until ctx is done.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("metrics server shutdown", zap.Error(err))
	}
}
