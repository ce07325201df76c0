package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHTTPProbe(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL+"/", time.Second)
	assert.Equal(t, Available, p.CheckHealth(context.Background()))

	code.Store(http.StatusServiceUnavailable)
	assert.Equal(t, Unavailable, p.CheckHealth(context.Background()))

	code.Store(http.StatusNotFound)
	assert.Equal(t, Unavailable, p.CheckHealth(context.Background()))
}

func TestHTTPProbe_NoResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPProbe(url, time.Second)
	assert.Equal(t, Unknown, p.CheckHealth(context.Background()))
}

func TestHTTPProbe_SilenceAfterAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	p := NewHTTPProbe(srv.URL, time.Second)
	require.Equal(t, Available, p.CheckHealth(context.Background()))

	srv.Close()
	assert.Equal(t, Unavailable, p.CheckHealth(context.Background()))
}

func TestGRPCProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	defer srv.Stop()

	hs.SetServingStatus("civic", healthpb.HealthCheckResponse_SERVING)

	p, err := NewGRPCProbe(lis.Addr().String(), "civic", 2*time.Second)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, Available, p.CheckHealth(context.Background()))

	hs.SetServingStatus("civic", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Equal(t, Unavailable, p.CheckHealth(context.Background()))
}

type fixed Availability

func (f fixed) CheckHealth(context.Context) Availability { return Availability(f) }

func TestFirst(t *testing.T) {
	assert.Equal(t, Available, First{fixed(Unknown), fixed(Available)}.CheckHealth(context.Background()))
	assert.Equal(t, Unavailable, First{fixed(Unavailable), fixed(Available)}.CheckHealth(context.Background()))
	assert.Equal(t, Unknown, First{fixed(Unknown)}.CheckHealth(context.Background()))
	assert.Equal(t, "unknown", Unknown.String())
}
