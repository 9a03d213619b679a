package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Audit event types emitted by the auth slice.
const (
	TypeLoginSuccess   = "auth.login.success"
	TypeLoginFailure   = "auth.login.failure"
	TypeRefreshSuccess = "auth.token.refresh.success"
	TypeRefreshReuse   = "auth.token.reuse_detected"
	TypeLogout         = "auth.logout"
	TypeLogoutAll      = "auth.logout_all"
)

// Event represents a security/audit event.
// Meta may carry ip, user_agent, reason; never secrets or token material.
type Event struct {
	Type        string
	TenantID    uuid.UUID
	CompanyID   uuid.UUID
	PrincipalID uuid.UUID
	Meta        map[string]string
	Time        time.Time
}

// Publisher publishes events to an external system (log, queue, etc.).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
