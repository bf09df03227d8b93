package main

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/CJhunterxv/smartwater/shared/device"
)

// healthService is the service name reported over grpc.health.v1 alongside
// the server-wide "" entry.
const healthService = "smartwater.monitor"

// syncHealth tracks the outcome of the most recent device sync and mirrors it
// into the gRPC health server.
type syncHealth struct {
	mu      sync.Mutex
	lastAt  time.Time
	lastErr error
	now     func() time.Time

	grpc *health.Server
}

func newSyncHealth(now func() time.Time) *syncHealth {
	if now == nil {
		now = time.Now
	}
	h := &syncHealth{now: now, grpc: health.NewServer()}
	// Serving until a sync says otherwise.
	h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.grpc.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	return h
}

// record is the SyncContext OnSync hook.
func (h *syncHealth) record(err error) {
	h.mu.Lock()
	h.lastAt = h.now()
	h.lastErr = err
	h.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.grpc.SetServingStatus(healthService, status)
}

type healthReport struct {
	OK        bool    `json:"ok"`
	LastSync  *string `json:"lastSync"`
	LastError string  `json:"lastError,omitempty"`
	Clients   int     `json:"clients"`
}

func (h *syncHealth) report(clients int) healthReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := healthReport{OK: h.lastErr == nil, Clients: clients}
	if !h.lastAt.IsZero() {
		ts := device.FormatTime(h.lastAt)
		r.LastSync = &ts
	}
	if h.lastErr != nil {
		r.LastError = h.lastErr.Error()
	}
	return r
}

// serveGRPCHealth starts a gRPC server exposing only grpc.health.v1.Health.
func serveGRPCHealth(addr string, hs *health.Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() {
		slog.Info("monitor gRPC health server ready", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			slog.Error("gRPC serve error", "err", err)
		}
	}()
	return srv, nil
}
