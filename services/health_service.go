// services/health_service.go

package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/norun9/shopclient/apiclient"
	"github.com/norun9/shopclient/kvstore"
)

// Status is the outcome of a health check.
type Status string

const (
	StatusServing    Status = "SERVING"
	StatusNotServing Status = "NOT_SERVING"
)

// HealthReport describes the local layer's state.
type HealthReport struct {
	Status        Status
	Storage       bool
	RefreshPhase  apiclient.Phase
	Authenticated bool
}

// HealthCheckService reports whether device storage answers and where the
// credential refresh machinery stands.
type HealthCheckService struct {
	store   kvstore.Store
	state   *apiclient.RefreshState
	session Authenticator
	log     logrus.FieldLogger
}

// NewHealthCheckService constructor
func NewHealthCheckService(store kvstore.Store, state *apiclient.RefreshState, session Authenticator, log logrus.FieldLogger) *HealthCheckService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HealthCheckService{store: store, state: state, session: session, log: log}
}

// Check pings storage. A torn down session is reported but is not unhealthy.
func (h *HealthCheckService) Check(ctx context.Context) HealthReport {
	h.log.Debug("HealthCheckService: Check called")
	r := HealthReport{
		Storage:       h.store.Ping(ctx),
		RefreshPhase:  h.state.Phase(),
		Authenticated: h.session.IsAuthenticated(),
	}
	r.Status = StatusNotServing
	if r.Storage {
		r.Status = StatusServing
	}
	return r
}
