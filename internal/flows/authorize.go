package flows

import (
	"context"

	"github.com/MrEthical07/ticketauth/access"
)

// Subject is the identity carried by a verified token.
type Subject struct {
	ID       int64
	Username string
	Role     string
}

// AuthorizeDeps wires the collaborators used by RunAuthorize.
type AuthorizeDeps struct {
	IsPublic  func(path string) bool
	Check     func(path, role string) access.Decision
	IsRevoked func(ctx context.Context, token string) (bool, error)
	Verify    func(token string) (Subject, error)
	Warn      func(msg string, err error)

	MetricInc func(int)
	Metrics   Metrics
}

// RunAuthorize makes the per-request access decision. Any token problem,
// including a revocation backend failure, collapses to Unauthorized.
// The returned Subject is nil for public paths and rejections.
func RunAuthorize(ctx context.Context, path, token string, deps AuthorizeDeps) (*Subject, access.Decision) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}

	if deps.IsPublic != nil && deps.IsPublic(path) {
		deps.MetricInc(deps.Metrics.AuthorizeAllowed)
		return nil, access.Allow
	}

	unauthorized := func() (*Subject, access.Decision) {
		deps.MetricInc(deps.Metrics.AuthorizeUnauthorized)
		return nil, access.Unauthorized
	}

	if token == "" || deps.Verify == nil || deps.IsRevoked == nil {
		return unauthorized()
	}

	revoked, err := deps.IsRevoked(ctx, token)
	if err != nil {
		deps.Warn("revocation lookup failed", err)
		return unauthorized()
	}
	if revoked {
		return unauthorized()
	}

	subject, err := deps.Verify(token)
	if err != nil {
		return unauthorized()
	}

	decision := access.Allow
	if deps.Check != nil {
		decision = deps.Check(path, subject.Role)
	}
	if decision != access.Allow {
		deps.MetricInc(deps.Metrics.AuthorizeForbidden)
		return nil, access.Forbidden
	}

	deps.MetricInc(deps.Metrics.AuthorizeAllowed)
	return &subject, access.Allow
}
