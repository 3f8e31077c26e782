package calibration

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"LaneFinder/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

func Save(path string, p Parameters) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create calibration dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}

func Load(path string) (Parameters, error) {
	var p Parameters
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read calibration: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode calibration %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("calibration %s: %w", path, err)
	}
	return p, nil
}

// LoadOrCalibrate loads the cached model at cachePath, or calibrates from the
// chessboard images in dir and writes the cache.
func LoadOrCalibrate(dir, cachePath string, pattern image.Point) (*Model, error) {
	p, err := Load(cachePath)
	if err == nil {
		logger.Log().Info("loaded calibration", zap.String("path", cachePath), zap.Float64("rms", p.RMS), zap.Float64("maxShiftPx", p.MaxShift()))
		return NewModel(p)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	images, err := readImages(dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range images {
			images[i].Close()
		}
	}()

	m, err := Calibrate(images, pattern)
	if err != nil {
		return nil, err
	}
	if err := Save(cachePath, m.Parameters()); err != nil {
		m.Close()
		return nil, err
	}
	logger.Log().Info("saved calibration", zap.String("path", cachePath))
	return m, nil
}

func readImages(dir string) ([]gocv.Mat, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read calibration images: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)

	images := make([]gocv.Mat, 0, len(names))
	for _, name := range names {
		img := gocv.IMRead(name, gocv.IMReadColor)
		if img.Empty() {
			logger.Log().Warn("unreadable calibration image", zap.String("path", name))
			img.Close()
			continue
		}
		images = append(images, img)
	}
	return images, nil
}
