package handlers

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AnalysisService is the gRPC health service name reporting whether the
// external analysis service answers.
const AnalysisService = "lucid.analysis"

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter polls the analysis service and publishes the result through
// the standard grpc.health.v1 service.
type HealthReporter struct {
	server   *health.Server
	pinger   Pinger
	interval time.Duration
	serving  atomic.Bool
}

func NewHealthReporter(pinger Pinger, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &HealthReporter{
		server:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
	}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.server.SetServingStatus(AnalysisService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

func (h *HealthReporter) Serving() bool {
	return h.serving.Load()
}

// Check pings once and updates the published status.
func (h *HealthReporter) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := h.pinger.Ping(ctx)
	ok := err == nil
	if prev := h.serving.Swap(ok); prev != ok {
		if ok {
			log.Printf("Analysis service is up")
		} else {
			log.Printf("Analysis service is down: %v", err)
		}
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(AnalysisService, st)
	return ok
}

// Run checks immediately and then every interval until ctx is cancelled.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown flips every service to NOT_SERVING before the server stops.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
