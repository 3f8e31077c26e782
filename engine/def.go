package engine

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	iface "LaneFinder/interface"

	"gocv.io/x/gocv"
)

const IDLE = 0x0003
const BUSY = 0x0004

var (
	ErrNoIdleWorker    = errors.New("no idle worker")
	ErrSessionNotFound = errors.New("session not found")
	ErrBadImage        = errors.New("decoded image is empty or unsupported format")
)

// Factory builds the processor owned by one worker.
type Factory func() (iface.Processor, error)

// Recorder persists the geometry of every processed frame.
type Recorder interface {
	RecordFrame(session string, g iface.Geometry) error
}

// Publisher forwards geometry to a downstream consumer. Publish must not block.
type Publisher interface {
	Publish(session string, g iface.Geometry)
}

type Options struct {
	Workers     int
	IdleTimeout time.Duration
	Recorder    Recorder
	Publisher   Publisher
	// OnRelease runs after a session gave its worker back.
	OnRelease func(session string)
}

type Info struct {
	ID         string    `json:"id"`
	Worker     int       `json:"worker"`
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"lastActive"`
	Frames     int64     `json:"frames"`
}

type WorkerInfo struct {
	ID      int    `json:"id"`
	State   string `json:"state"`
	Session string `json:"session,omitempty"`
}

func StateName(state int) string {
	switch state {
	case IDLE:
		return "IDLE"
	case BUSY:
		return "BUSY"
	}
	return "UNKNOWN"
}

// DecodeImage decodes an encoded image (jpg, png, ...) into a BGR Mat.
func DecodeImage(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.NewMat(), ErrBadImage
	}
	return mat, nil
}

// Base64ToMat decodes a base64 image, with or without a data:image/... prefix.
func Base64ToMat(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return gocv.NewMat(), err
	}
	return DecodeImage(data)
}
