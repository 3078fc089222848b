package health

import (
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the gateway.
const ServiceName = "mcp.gateway"

// RegisterGRPC registers the standard gRPC health service on srv and keeps
// its serving status in step with checker. The gateway serves while the
// upstream is healthy or not yet probed.
func RegisterGRPC(srv *grpc.Server, checker *Checker) *grpchealth.Server {
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	set := func(s Status) {
		status := healthpb.HealthCheckResponse_SERVING
		if s == StatusDegraded {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}
	set(checker.Status())
	checker.SetStatusListener(set)
	return hs
}
