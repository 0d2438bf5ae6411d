package iam

import (
	"context"

	"github.com/quatton/qmag/pkg/qauth"
)

type ctxKey string

const principalKey ctxKey = "qmag.principal"

func (s *IAMService) Principal(ctx context.Context) (*qauth.Claims, bool) {
	if v := ctx.Value(principalKey); v != nil {
		if p, ok := v.(*qauth.Claims); ok {
			return p, true
		}
	}
	return nil, false
}

// Subject returns the authenticated caller, or "anonymous" when auth is off.
func (s *IAMService) Subject(ctx context.Context) string {
	if p, ok := s.Principal(ctx); ok && p.Subject != "" {
		return p.Subject
	}
	return "anonymous"
}
