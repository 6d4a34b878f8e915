package grpcclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient оборачивает gRPC health клиент сервера совместной работы
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
	log    *slog.Logger
}

// NewHealthClient создает клиента. Соединение открывается лениво, при первом запросе
func NewHealthClient(address string, opts ...grpc.DialOption) (*HealthClient, error) {
	logger := slog.Default().With("component", "grpc-client", "address", address)
	logger.Debug("Creating health client")

	// В продакшене здесь будут TLS credentials
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health client for %s: %w", address, err)
	}

	return &HealthClient{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
		log:    logger,
	}, nil
}

// Check запрашивает статус сервиса. Пустое имя - сервер целиком
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	duration := time.Since(start)

	if err != nil {
		c.log.Error("gRPC health check failed",
			"error", err,
			"service", service,
			"duration", duration)
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc health check failed: %w", err)
	}

	c.log.Debug("gRPC health check completed",
		"service", service,
		"status", resp.Status.String(),
		"duration", duration)
	return resp.Status, nil
}

func (c *HealthClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
