// Package iam authenticates API callers with bearer JWTs signed by the
// server's AUTH_SECRET. With no secret configured every request is allowed.
package iam

import (
	"github.com/quatton/qmag/pkg/qauth"
)

type IAMService struct {
	secret []byte
}

func NewIAMService(secret string) *IAMService {
	return &IAMService{secret: []byte(secret)}
}

// Enabled reports whether requests must carry a token.
func (s *IAMService) Enabled() bool {
	return len(s.secret) > 0
}

// Authenticate verifies a bearer token and returns its claims.
func (s *IAMService) Authenticate(token string) (*qauth.Claims, error) {
	return qauth.Verify(s.secret, token)
}
