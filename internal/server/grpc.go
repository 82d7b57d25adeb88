package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/stats"
)

const StatsServiceName = "keshly.v1.Stats"

// Pinger reports database liveness.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration, logger *slog.Logger) error
}

// HealthMonitor drives the gRPC health service from periodic database pings.
type HealthMonitor struct {
	hs       *health.Server
	db       Pinger
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthMonitor(db Pinger, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{hs: health.NewServer(), db: db, interval: interval, logger: logger}
}

func (m *HealthMonitor) Server() *health.Server { return m.hs }

// Check pings once and publishes the result for the server and the stats service.
func (m *HealthMonitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := m.db.HealthCheck(ctx, 3*time.Second, m.logger); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		m.logger.Warn("health.db.down", "error", err)
	}
	m.hs.SetServingStatus("", st)
	m.hs.SetServingStatus(StatsServiceName, st)
	return st
}

// Run checks until ctx ends, then marks everything NOT_SERVING.
func (m *HealthMonitor) Run(ctx context.Context) error {
	m.Check(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.hs.Shutdown()
			return nil
		case <-t.C:
			m.Check(ctx)
		}
	}
}

// StatsServer serves spending views as structpb messages.
type StatsServer interface {
	Home(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Recent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type statsServer struct {
	svc    *stats.Service
	logger *slog.Logger
}

func NewStatsServer(svc *stats.Service, logger *slog.Logger) StatsServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &statsServer{svc: svc, logger: logger}
}

func (s *statsServer) Home(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	user, ok := common.UserIDFromContext(ctx)
	if !ok {
		return nil, common.UnauthenticatedError("missing user")
	}
	h, err := s.svc.Home(ctx, user)
	if err != nil {
		s.logger.Warn("grpc.stats.home_failed", "user_id", user, "error", err)
		return nil, common.GRPCError(err)
	}
	return toStruct(h)
}

func (s *statsServer) Recent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, ok := common.UserIDFromContext(ctx)
	if !ok {
		return nil, common.UnauthenticatedError("missing user")
	}
	limit := 0
	if v, ok := in.GetFields()["limit"]; ok {
		limit = int(v.GetNumberValue())
	}
	recs, err := s.svc.Recent(ctx, user, limit)
	if err != nil {
		s.logger.Warn("grpc.stats.recent_failed", "user_id", user, "error", err)
		return nil, common.GRPCError(err)
	}
	return toStruct(map[string]any{"receipts": recs})
}

// toStruct converts a JSON-encodable value into a structpb.Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func RegisterStatsServer(s grpc.ServiceRegistrar, srv StatsServer) {
	s.RegisterService(&StatsServiceDesc, srv)
}

func statsHomeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatsServer).Home(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + StatsServiceName + "/Home"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatsServer).Home(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statsRecentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatsServer).Recent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + StatsServiceName + "/Recent"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatsServer).Recent(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var StatsServiceDesc = grpc.ServiceDesc{
	ServiceName: StatsServiceName,
	HandlerType: (*StatsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Home", Handler: statsHomeHandler},
		{MethodName: "Recent", Handler: statsRecentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keshly/v1/stats.proto",
}

// AuthInterceptor authenticates bearer tokens from metadata for every
// method outside the health service.
func AuthInterceptor(verifier TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if vals := md.Get("authorization"); len(vals) > 0 {
			token, _ = strings.CutPrefix(vals[0], "Bearer ")
		}
		if token == "" {
			return nil, common.UnauthenticatedError("missing bearer token")
		}
		user, err := verifier.Authenticate(token)
		if err != nil {
			return nil, common.GRPCError(err)
		}
		return handler(common.WithUserID(ctx, user), req)
	}
}

// NewGRPCServer registers health, stats and reflection (for grpcurl) on a
// fresh server.
func NewGRPCServer(verifier TokenVerifier, monitor *HealthMonitor, statsSvc StatsServer) *grpc.Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(verifier)))
	healthpb.RegisterHealthServer(gs, monitor.Server())
	RegisterStatsServer(gs, statsSvc)
	reflection.Register(gs)
	return gs
}
