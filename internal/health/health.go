package health

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the pantry store.
const ServiceName = "pantry"

// Pinger is satisfied by every document store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker keeps the standard gRPC health service in step with store reachability.
type Checker struct {
	server *health.Server
	store  Pinger
	logger *logrus.Logger

	mu      sync.Mutex
	healthy bool
	checked bool
}

func NewChecker(store Pinger, logger *logrus.Logger) *Checker {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Checker{
		server: health.NewServer(),
		store:  store,
		logger: logger,
	}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Register exposes the health service on srv.
func (c *Checker) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, c.server)
}

// Check pings the store and updates the served status. Transitions are logged once.
func (c *Checker) Check(ctx context.Context) error {
	err := c.store.Ping(ctx)
	healthy := err == nil

	c.mu.Lock()
	changed := !c.checked || healthy != c.healthy
	c.healthy = healthy
	c.checked = true
	c.mu.Unlock()

	if healthy {
		c.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}

	if changed {
		if healthy {
			c.logger.Info("document store reachable")
		} else {
			c.logger.WithError(err).Warn("document store unreachable")
		}
	}
	return err
}

// Healthy reports the result of the last check.
func (c *Checker) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// Shutdown marks every service NOT_SERVING so clients drain before the server stops.
func (c *Checker) Shutdown() {
	c.server.Shutdown()
}

func (c *Checker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
