package healthservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/proto"

	wsHub "Pairline/internal/websocket"
)

// ServiceName - имя сервиса в grpc.health.v1
const ServiceName = "pairline.Collaboration"

const DefaultInterval = 5 * time.Second

// StatsSource - то, что Hub отдает для health check
type StatsSource interface {
	Stats(ctx context.Context) (wsHub.Stats, error)
}

// Service публикует состояние Hub через стандартный gRPC health протокол
type Service struct {
	health *health.Server
	stats  StatsSource
	log    *slog.Logger
}

func New(stats StatsSource) *Service {
	s := &Service{
		health: health.NewServer(),
		stats:  stats,
		log:    slog.Default().With("component", "healthservice"),
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Service) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

func (s *Service) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Refresh опрашивает Hub один раз
func (s *Service) Refresh(ctx context.Context) (wsHub.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return wsHub.Stats{}, fmt.Errorf("hub stats: %w", err)
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return stats, nil
}

// Watch обновляет статус каждые interval, пока жив ctx
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if stats, err := s.Refresh(ctx); err != nil {
			s.log.Warn("Hub is not serving", "error", err)
		} else {
			s.log.Debug("Hub is serving", "rooms", stats.Rooms, "connections", stats.Connections)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown переводит все сервисы в NOT_SERVING. Дальнейшие Refresh игнорируются
func (s *Service) Shutdown() {
	s.log.Info("Health service shutting down")
	s.health.Shutdown()
}

// NewServer создает gRPC сервер с логированием, health и reflection
func NewServer(svc *Service) *grpc.Server {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(svc.LoggingInterceptor),
	)
	svc.Register(srv)

	// Включаем reflection для отладки
	reflection.Register(srv)
	return srv
}

// LoggingInterceptor логирует все gRPC запросы
func (s *Service) LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()

	s.log.Debug("gRPC request started",
		"method", info.FullMethod,
		"request_bytes", messageSize(req))

	resp, err := handler(ctx, req)

	duration := time.Since(start)

	if err != nil {
		s.log.Error("gRPC request failed",
			"method", info.FullMethod,
			"duration", duration,
			"error", err)
	} else {
		s.log.Info("gRPC request completed",
			"method", info.FullMethod,
			"duration", duration)
	}

	return resp, err
}

func messageSize(v any) int {
	if m, ok := v.(proto.Message); ok {
		return proto.Size(m)
	}
	return 0
}
