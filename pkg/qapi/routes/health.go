package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qmag/pkg/qapi/schemas"
	"github.com/quatton/qmag/pkg/qapi/services/runs"
)

type HealthOutput struct {
	Body schemas.HealthResponse
}

type BackendsOutput struct {
	Body schemas.BackendsResponse
}

func RegisterHealth(api huma.API, svc *runs.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health check",
		Description: "Returns the health status of the server and the backend it runs jobs on",
		Tags:        []string{TagHealth.String()},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.Status = "ok"
		if svc != nil {
			resp.Body.Backend = svc.Backend()
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-backends",
		Method:      http.MethodGet,
		Path:        "/api/backends",
		Summary:     "List enabled backends",
		Description: "Lists the backends this server can execute runs on and whether each is reachable",
		Tags:        []string{TagHealth.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *struct{}) (*BackendsOutput, error) {
		resp := &BackendsOutput{}
		resp.Body.Backends = []schemas.BackendStatus{}
		if svc == nil {
			return resp, nil
		}
		status := schemas.BackendStatus{Name: svc.Backend(), Available: true}
		if err := svc.Check(ctx); err != nil {
			status.Available = false
			status.Error = err.Error()
		}
		resp.Body.Backends = append(resp.Body.Backends, status)
		return resp, nil
	})
}
