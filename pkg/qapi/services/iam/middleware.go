package iam

import (
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qmag/pkg/qlog"
)

// Middleware rejects operations that declare bearer security unless the
// request carries a valid token. Operations without security pass through.
func (s *IAMService) Middleware(api huma.API, logger *qlog.Logger) func(ctx huma.Context, next func(huma.Context)) {
	logger = qlog.OrQuiet(logger)

	return func(ctx huma.Context, next func(huma.Context)) {
		if !s.Enabled() || !requiresAuth(ctx.Operation()) {
			next(ctx)
			return
		}

		authHeader := ctx.Header("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "Authentication required")
			return
		}

		claims, err := s.Authenticate(parts[1])
		if err != nil {
			logger.Warn("invalid token", "error", err)
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "Invalid token")
			return
		}

		logger.Debug("authenticated caller", "sub", claims.Subject)
		next(huma.WithValue(ctx, principalKey, claims))
	}
}

func requiresAuth(op *huma.Operation) bool {
	return op != nil && len(op.Security) > 0
}
