package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qmag/pkg/qapi/services"
	"github.com/quatton/qmag/pkg/qlog"
)

func RegisterAPI(api huma.API, svcs *services.Services, logger *qlog.Logger) {
	if svcs == nil {
		svcs = &services.Services{}
	}
	RegisterHealth(api, svcs.Runs)
	RegisterIAM(api, svcs.IAM)
	RegisterRuns(api, svcs.Runs, logger)
}
