package flows

import "context"

// LogoutDeps wires the collaborators used by RunLogout.
type LogoutDeps struct {
	Revoke    func(ctx context.Context, token string) error
	SubjectID func(token string) (int64, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Metrics   Metrics
	Events    Events
	Errors    Errors
}

// RunLogout revokes token. Revoking an empty, unknown or already revoked
// token is not an error.
func RunLogout(ctx context.Context, token string, deps LogoutDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Revoke == nil {
		return deps.Errors.EngineNotReady
	}
	if token == "" {
		return nil
	}

	if err := deps.Revoke(ctx, token); err != nil {
		deps.EmitAudit(ctx, deps.Events.Logout, false, 0, "", err, nil)
		return err
	}

	var userID int64
	if deps.SubjectID != nil {
		userID, _ = deps.SubjectID(token)
	}
	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, userID, "", nil, nil)
	return nil
}
