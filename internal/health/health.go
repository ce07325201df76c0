// Package health probes whether the issues server is reachable.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Availability is tri-state. Unknown means the probe could not get an
// answer and must not be read as "down".
type Availability int

const (
	Unknown Availability = iota
	Available
	Unavailable
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

type Probe interface {
	CheckHealth(ctx context.Context) Availability
}

// HTTPProbe calls GET /health. Before the server has ever answered, a
// failed call is Unknown; once it has answered, silence means Unavailable.
type HTTPProbe struct {
	url      string
	client   *http.Client
	answered atomic.Bool
}

func NewHTTPProbe(baseURL string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		url:    strings.TrimRight(baseURL, "/") + "/health",
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) CheckHealth(ctx context.Context) Availability {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		slog.Error("error creating health request", "error", err)
		return Unknown
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("health check got no response", "error", err)
		if p.answered.Load() {
			return Unavailable
		}
		return Unknown
	}
	defer resp.Body.Close()
	p.answered.Store(true)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return Available
	}
	slog.Debug("health check failed", "status", resp.StatusCode)
	return Unavailable
}

// GRPCProbe checks the standard grpc.health.v1 service.
type GRPCProbe struct {
	conn     *grpc.ClientConn
	client   healthpb.HealthClient
	service  string
	timeout  time.Duration
	answered atomic.Bool
}

func NewGRPCProbe(addr, service string, timeout time.Duration) (*GRPCProbe, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &GRPCProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		timeout: timeout,
	}, nil
}

func (p *GRPCProbe) CheckHealth(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			if p.answered.Load() {
				return Unavailable
			}
			return Unknown
		default:
			// the server answered, just not with SERVING
			p.answered.Store(true)
			return Unavailable
		}
	}
	p.answered.Store(true)
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return Available
	}
	return Unavailable
}

func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}

// First asks each probe in turn and returns the first definite answer.
type First []Probe

func (f First) CheckHealth(ctx context.Context) Availability {
	for _, p := range f {
		if a := p.CheckHealth(ctx); a != Unknown {
			return a
		}
	}
	return Unknown
}
