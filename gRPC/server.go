package lanerpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"LaneFinder/engine"
	iface "LaneFinder/interface"
	"LaneFinder/logger"
	"LaneFinder/monitor"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxFrameBytes bounds a single encoded frame.
const MaxFrameBytes = 20 * 1024 * 1024

type Server struct {
	pool *engine.Pool

	// CloseChannel is closed by the Shutdown call.
	CloseChannel chan struct{}
	closeOnce    sync.Once
}

var _ LaneServiceServer = (*Server)(nil)

func NewServer(pool *engine.Pool) *Server {
	return &Server{pool: pool, CloseChannel: make(chan struct{})}
}

func (s *Server) OpenSession(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	monitor.GRPCTotal.Inc()
	sess, err := s.pool.Alloc()
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(sess.ID()), nil
}

func (s *Server) ProcessFrame(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	md, _ := metadata.FromIncomingContext(ctx)
	ids := md.Get(SessionKey)
	if len(ids) == 0 || ids[0] == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %q metadata", SessionKey)
	}
	sess, err := s.pool.Get(ids[0])
	if err != nil {
		return nil, toStatus(err)
	}
	frame, err := engine.DecodeImage(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid image: %v", err)
	}
	defer frame.Close()

	g, err := sess.Process(frame)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(g)
}

func (s *Server) CloseSession(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	if err := s.pool.Release(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetSession(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	sess, err := s.pool.Get(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	body := map[string]any{"session": sess.Info()}
	if g, ok := sess.Latest(); ok {
		body["latest"] = g
	}
	return toStruct(body)
}

func (s *Server) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	return toStruct(map[string]any{
		"sessions": s.pool.Sessions(),
		"workers":  s.pool.Workers(),
	})
}

func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	logger.Log().Warn("shutdown requested over rpc")
	s.closeOnce.Do(func() {
		close(s.CloseChannel)
	})
	return &emptypb.Empty{}, nil
}

// toStruct converts v through its JSON form, so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return st, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, engine.ErrNoIdleWorker):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, iface.ErrInputDimension):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func NewGRPCServer(srv *Server) *grpc.Server {
	g := grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxFrameBytes),
		grpc.UnaryInterceptor(recoverInterceptor),
	)
	RegisterLaneServiceServer(g, srv)
	return g
}

func recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("rpc panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
			err = status.Errorf(codes.Internal, "panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	g := NewGRPCServer(srv)
	go func() {
		logger.Log().Info("rpc server listening", zap.String("addr", addr))
		if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("rpc server stopped", zap.Error(err))
		}
	}()
	return g, nil
}
