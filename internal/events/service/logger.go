package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Matteomic94/ElementMedica-sub000/internal/events/domain"
)

// Logger is a Publisher that writes audit events to the structured log.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) *Logger { return &Logger{log: log} }

func (l *Logger) Publish(ctx context.Context, e domain.Event) error {
	ev := l.log.Info().
		Str("type", e.Type).
		Str("tenant_id", e.TenantID.String()).
		Str("company_id", e.CompanyID.String()).
		Str("principal_id", e.PrincipalID.String()).
		Time("ts", e.Time)
	if len(e.Meta) > 0 {
		ev = ev.Interface("meta", e.Meta)
	}
	ev.Msg("audit_event")
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, domain.Event) error { return nil }
