package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"LaneFinder/calibration"
	"LaneFinder/config"
	iface "LaneFinder/interface"
	"LaneFinder/logger"
	"LaneFinder/video"

	"go.uber.org/zap"
)

const defaultConfigPath = "config.yaml"

// exit codes for file mode
const (
	exitOK         = 0
	exitVideoInput = 1
	exitUsage      = 2
	exitFailure    = 3
	exitImageInput = 4
)

type options struct {
	configPath string
	diag       int
	noText     bool
	serve      bool
	input      string

	// diagnostics flags given on the command line override the config file
	diagSet bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fset := flag.NewFlagSet("LaneFinder", flag.ContinueOnError)
	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), "usage: LaneFinder [options] infilename\n       LaneFinder -serve [options]\n")
		fset.PrintDefaults()
	}
	fset.StringVar(&o.configPath, "config", defaultConfigPath, "configuration file")
	fset.IntVar(&o.diag, "diag", 0, "display diagnostics: [0=off], 1=filter, 2=proj 3=full")
	fset.BoolVar(&o.noText, "notext", false, "do not render text overlay")
	fset.BoolVar(&o.serve, "serve", false, "run the http, websocket and rpc services")
	if err := fset.Parse(args); err != nil {
		return o, err
	}
	fset.Visit(func(f *flag.Flag) {
		if f.Name == "diag" || f.Name == "notext" {
			o.diagSet = true
		}
	})
	switch {
	case o.serve && fset.NArg() > 0:
		return o, errors.New("-serve takes no input file")
	case !o.serve && fset.NArg() != 1:
		fset.Usage()
		return o, errors.New("expected exactly one input file")
	case !o.serve:
		o.input = fset.Arg(0)
	}
	return o, nil
}

func loadConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, fs.ErrNotExist) && o.configPath == defaultConfigPath {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return cfg, err
	}
	if o.diagSet {
		mode, err := iface.ModeFromLevel(o.diag, !o.noText)
		if err != nil {
			return cfg, err
		}
		cfg.Diagnostics = mode
	}
	return cfg, nil
}

func run(args []string) int {
	o, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		return exitUsage
	}
	if err := logger.Init(cfg.Logging.Mode); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		return exitUsage
	}
	defer logger.Sync()

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	if o.serve {
		fmt.Println(" HTTP  Port:", cfg.Server.HTTPPort)
		fmt.Println(" gRPC  Port:", cfg.Server.RPCPort)
		fmt.Println(" Metrics Port:", cfg.Server.MetricsPort)
		fmt.Println("Configured Workers Num:", cfg.Server.WorkersNum)
		if cfg.Server.WorkersNum > runtime.NumCPU() {
			fmt.Println("Please note that workersNum exceeds CPU cores, which may lead to performance degradation.")
		}
	}
	fmt.Println(strings.Repeat("#", 64))

	// refuse a missing input before spending time on calibration
	if !o.serve {
		if kind, err := video.Sniff(o.input); err != nil {
			fmt.Fprintln(os.Stderr, err)
			switch kind {
			case video.KindVideo:
				return exitVideoInput
			case video.KindImage:
				return exitImageInput
			}
			return exitUsage
		}
	}

	camera, err := calibration.LoadOrCalibrate(cfg.Calibration.ImageDir, cfg.Calibration.CachePath, cfg.Calibration.Pattern())
	if err != nil {
		logger.Log().Error("camera calibration", zap.Error(err))
		return exitFailure
	}
	app, err := NewApp(cfg, camera)
	if err != nil {
		_ = camera.Close()
		logger.Log().Error("pipeline setup", zap.Error(err))
		return exitFailure
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if o.serve {
		err = app.Serve(ctx)
	} else {
		err = app.RunFile(ctx, o.input)
	}
	if err != nil {
		logger.Log().Error("run failed", zap.Error(err))
		return exitFailure
	}
	fmt.Println("Done")
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:]))
}
