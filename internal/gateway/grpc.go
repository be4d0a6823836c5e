// ABOUTME: gRPC health service so orchestrators can health-check the hub over grpc_addr
// ABOUTME: Reports SERVING for the hub service until shutdown begins

package gateway

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name reported by the gRPC health check.
const HealthServiceName = "chathub.Hub"

// registerHealthService registers the standard health service on server.
func registerHealthService(server *grpc.Server) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return hs
}
