package lanerpc

import (
	"context"
	"net"
	"testing"

	"LaneFinder/engine"
	iface "LaneFinder/interface"
	"LaneFinder/monitor"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type MockBackend struct {
	frames int64
	latest *iface.FrameResult
}

func (m *MockBackend) Process(frame gocv.Mat) (*iface.FrameResult, error) {
	if frame.Cols() != 64 || frame.Rows() != 48 {
		return nil, &iface.InputDimensionError{Op: "undistort"}
	}
	m.latest = &iface.FrameResult{Geometry: iface.Geometry{
		Frame:             m.frames,
		LeftRadius:        700,
		Offset:            0.25,
		LeftCoefficients:  [3]float64{0.001, 0.5, 300},
		LeftAccepted:      true,
		RightAccepted:     true,
		CrossCheckPassed:  true,
		RightCoefficients: [3]float64{0.001, 0.5, 900},
	}}
	m.frames++
	return m.latest, nil
}
func (m *MockBackend) Latest() *iface.FrameResult { return m.latest }
func (m *MockBackend) Reset()                     { m.frames, m.latest = 0, nil }
func (m *MockBackend) Close() error               { return nil }

func startTestServer(t *testing.T) (*LaneServiceClient, *Server) {
	t.Helper()
	pool, err := engine.NewPool(func() (iface.Processor, error) { return &MockBackend{}, nil }, engine.Options{Workers: 1})
	require.NoError(t, err)
	srv := NewServer(pool)
	g := NewGRPCServer(srv)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = g.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		g.Stop()
		_ = pool.Close()
	})
	return NewLaneServiceClient(conn), srv
}

func encodedFrame(t *testing.T, cols, rows int) []byte {
	t.Helper()
	img := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(".png", img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func TestSessionLifecycle(t *testing.T) {
	client, _ := startTestServer(t)
	ctx := context.Background()
	before := testutil.ToFloat64(monitor.GRPCTotal)

	id, err := client.OpenSession(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.NotEmpty(t, id.GetValue())

	_, err = client.OpenSession(ctx, &emptypb.Empty{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	withID := metadata.AppendToOutgoingContext(ctx, SessionKey, id.GetValue())
	for i := 0; i < 2; i++ {
		res, err := client.ProcessFrame(withID, wrapperspb.Bytes(encodedFrame(t, 64, 48)))
		require.NoError(t, err)
		m := res.AsMap()
		assert.Equal(t, float64(i), m["frame"])
		assert.Equal(t, 0.25, m["offset"])
		assert.Equal(t, []any{0.001, 0.5, 300.0}, m["leftCoefficients"])
	}

	info, err := client.GetSession(ctx, id)
	require.NoError(t, err)
	m := info.AsMap()
	assert.Equal(t, float64(2), m["session"].(map[string]any)["frames"])
	assert.Equal(t, float64(1), m["latest"].(map[string]any)["frame"])

	list, err := client.ListSessions(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Len(t, list.AsMap()["sessions"], 1)

	_, err = client.CloseSession(ctx, id)
	require.NoError(t, err)
	_, err = client.CloseSession(ctx, id)
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, before+8, testutil.ToFloat64(monitor.GRPCTotal))
}

func TestProcessFrameErrors(t *testing.T) {
	client, _ := startTestServer(t)
	ctx := context.Background()

	_, err := client.ProcessFrame(ctx, wrapperspb.Bytes(encodedFrame(t, 64, 48)))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "missing session metadata")

	unknown := metadata.AppendToOutgoingContext(ctx, SessionKey, "nope")
	_, err = client.ProcessFrame(unknown, wrapperspb.Bytes(encodedFrame(t, 64, 48)))
	assert.Equal(t, codes.NotFound, status.Code(err))

	id, err := client.OpenSession(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	withID := metadata.AppendToOutgoingContext(ctx, SessionKey, id.GetValue())

	_, err = client.ProcessFrame(withID, wrapperspb.Bytes([]byte("garbage")))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ProcessFrame(withID, wrapperspb.Bytes(encodedFrame(t, 32, 32)))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "wrong frame size")
}

func TestShutdownClosesChannel(t *testing.T) {
	client, srv := startTestServer(t)
	_, err := client.Shutdown(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	_, open := <-srv.CloseChannel
	assert.False(t, open)

	_, err = client.Shutdown(context.Background(), &emptypb.Empty{})
	assert.NoError(t, err, "second shutdown is harmless")
}
