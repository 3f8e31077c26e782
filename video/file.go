package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"LaneFinder/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	}
	return "unknown"
}

var (
	ErrUnsupported = errors.New("unsupported input file")

	videoPattern = regexp.MustCompile(`^.+\.(mp4|avi)$`)
	imagePattern = regexp.MustCompile(`^.+\.(jpg|jpeg|JPG|png|PNG)$`)
)

// FrameFunc turns one input frame into one output frame. The returned Mat
// belongs to the caller.
type FrameFunc func(frame gocv.Mat) (gocv.Mat, error)

// Sniff classifies path by extension and checks that it exists.
func Sniff(path string) (Kind, error) {
	var kind Kind
	switch {
	case videoPattern.MatchString(path):
		kind = KindVideo
	case imagePattern.MatchString(path):
		kind = KindImage
	default:
		return KindUnknown, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if _, err := os.Stat(path); err != nil {
		return kind, fmt.Errorf("%s input file %s: %w", kind, path, err)
	}
	return kind, nil
}

// OutputPath maps dir/name to dir_out/name and creates dir_out.
func OutputPath(in string) (string, error) {
	dir := filepath.Dir(in)
	outDir := dir + "_out"
	if !strings.ContainsRune(in, filepath.Separator) {
		outDir = "_out"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(outDir, filepath.Base(in)), nil
}

func ProcessImage(in, out string, fn FrameFunc) error {
	img := gocv.IMRead(in, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("read image %s: %w", in, ErrUnsupported)
	}
	logger.Log().Info("image processing", zap.String("in", in))
	res, err := fn(img)
	if err != nil {
		return err
	}
	defer res.Close()
	if !gocv.IMWrite(out, res) {
		return fmt.Errorf("write image %s failed", out)
	}
	logger.Log().Info("done image processing", zap.String("out", out))
	return nil
}

func codecFor(path string) string {
	if strings.HasSuffix(path, ".avi") {
		return "MJPG"
	}
	return "mp4v"
}

// ProcessVideo runs every frame of in through fn and writes the results to
// out at the input frame rate. It returns the number of frames written.
func ProcessVideo(ctx context.Context, in, out string, fn FrameFunc) (int, error) {
	capture, err := gocv.VideoCaptureFile(in)
	if err != nil {
		return 0, fmt.Errorf("open video %s: %w", in, err)
	}
	defer capture.Close()
	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 25
	}
	logger.Log().Info("video processing", zap.String("in", in), zap.Float64("fps", fps))

	frame := gocv.NewMat()
	defer frame.Close()
	var writer *gocv.VideoWriter
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}
		res, err := fn(frame)
		if err != nil {
			return n, fmt.Errorf("frame %d: %w", n, err)
		}
		if writer == nil {
			writer, err = gocv.VideoWriterFile(out, codecFor(out), fps, res.Cols(), res.Rows(), true)
			if err != nil {
				res.Close()
				return n, fmt.Errorf("open writer %s: %w", out, err)
			}
		}
		err = writer.Write(res)
		res.Close()
		if err != nil {
			return n, fmt.Errorf("write frame %d: %w", n, err)
		}
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("video %s: no frames decoded", in)
	}
	logger.Log().Info("done video processing", zap.String("out", out), zap.Int("frames", n))
	return n, nil
}
