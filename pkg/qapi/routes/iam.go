package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qmag/pkg/qapi/schemas"
	"github.com/quatton/qmag/pkg/qapi/services/iam"
)

type MeOutput struct {
	Body schemas.MeResponse
}

func RegisterIAM(api huma.API, svc *iam.IAMService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/api/me",
		Summary:     "Get current caller",
		Description: "Returns the subject of the bearer token used for this request",
		Tags:        []string{TagIam.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *struct{}) (*MeOutput, error) {
		resp := &MeOutput{}
		if svc == nil {
			resp.Body.Subject = "anonymous"
			return resp, nil
		}
		resp.Body.Subject = svc.Subject(ctx)
		resp.Body.AuthEnabled = svc.Enabled()
		if p, ok := svc.Principal(ctx); ok && p.Exp != 0 {
			resp.Body.ExpiresAt = &p.Exp
		}
		return resp, nil
	})
}
