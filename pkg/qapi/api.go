// Package qapi serves the qmag remote execution API that RemoteRunner talks
// to.
package qapi

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quatton/qmag/pkg/qapi/routes"
	"github.com/quatton/qmag/pkg/qapi/services"
	"github.com/quatton/qmag/pkg/qlog"
)

const Version = "1.0.0"

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

// NewApi builds the router with every route registered. svcs may be nil to
// produce the OpenAPI document only.
func NewApi(svcs *services.Services, logger *qlog.Logger) *Api {
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("qmag Server", Version)

	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "JWT issued with `qmag token issue`",
		},
	}

	api := humachi.New(router, config)

	if svcs != nil && svcs.IAM != nil {
		api.UseMiddleware(svcs.IAM.Middleware(api, logger))
	}
	routes.RegisterAPI(api, svcs, logger)

	return &Api{Api: api, Router: router}
}
