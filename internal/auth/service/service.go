package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/token"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	evdomain "github.com/Matteomic94/ElementMedica-sub000/internal/events/domain"
	evsvc "github.com/Matteomic94/ElementMedica-sub000/internal/events/service"
	"github.com/Matteomic94/ElementMedica-sub000/internal/metrics"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/bounded"
)

// reuseGrace is how long after a rotation a replayed parent token is treated as a lost race
// rather than theft.
const reuseGrace = 10 * time.Second

const purgeTimeout = 30 * time.Second

// dummyHash equalizes bcrypt work between unknown identifiers and wrong passwords.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("elementmedica-timing-equalizer"), bcrypt.DefaultCost)
	return h
})

type Service struct {
	principals domain.PrincipalRepository
	refresh    domain.RefreshTokenStore
	tokens     *token.Service
	loader     *Loader
	cfg        config.Config
	pub        evdomain.Publisher
	log        zerolog.Logger
	now        func() time.Time
}

func New(principals domain.PrincipalRepository, refresh domain.RefreshTokenStore, tokens *token.Service, loader *Loader, cfg config.Config) *Service {
	return &Service{
		principals: principals,
		refresh:    refresh,
		tokens:     tokens,
		loader:     loader,
		cfg:        cfg,
		pub:        evsvc.Discard{},
		log:        zerolog.Nop(),
		now:        time.Now,
	}
}

// SetPublisher allows wiring an audit event publisher.
func (s *Service) SetPublisher(p evdomain.Publisher) { s.pub = p }

// SetLogger allows injection of a structured logger for debug tracing.
func (s *Service) SetLogger(l zerolog.Logger) { s.log = l }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Login authenticates by email, username or tax code. Every credential failure, including a
// principal that is deleted, inactive or locked, is reported as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in domain.LoginInput) (domain.Session, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	if in.Identifier == "" || in.Password == "" {
		return domain.Session{}, domain.ErrBadRequest
	}
	p, err := bounded.Call(ctx, "find_principal", s.cfg.DBLookupTimeout, func(ctx context.Context) (domain.Principal, error) {
		return s.principals.FindByIdentifier(ctx, in.Identifier)
	})
	if errors.Is(err, domain.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(in.Password))
		s.loginFailed(ctx, domain.Principal{}, "unknown_identifier", in)
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		s.outcome("login", err)
		return domain.Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(in.Password)) != nil {
		s.loginFailed(ctx, p, "bad_password", in)
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if err := p.Usable(); err != nil {
		s.loginFailed(ctx, p, domain.CodeOf(err), in)
		return domain.Session{}, domain.ErrInvalidCredentials.Wrap(err)
	}

	current, err := s.loader.Build(ctx, p)
	if err != nil {
		s.outcome("login", err)
		return domain.Session{}, err
	}
	sess, err := s.issueSession(ctx, current, in.RememberMe, in.UserAgent, in.IP)
	if err != nil {
		s.outcome("login", err)
		return domain.Session{}, err
	}

	principalID := p.ID
	bounded.Fire(ctx, s.log, "update_last_login", s.cfg.SideEffectTimeout, func(ctx context.Context) error {
		return s.principals.UpdateLastLogin(ctx, principalID, s.now())
	})
	s.publish(ctx, evdomain.TypeLoginSuccess, current, map[string]string{"ip": in.IP, "user_agent": in.UserAgent})
	metrics.IncAuthOutcome("login", "success")
	s.log.Debug().Str("principal_id", p.ID.String()).Bool("remember", in.RememberMe).Msg("login succeeded")
	return sess, nil
}

// Refresh exchanges a refresh token for a new session. With rotation enabled the presented token
// is retired and its successor stored in one atomic step, so concurrent exchanges yield exactly
// one session and a failed exchange leaves the presented token usable. Presenting a token that
// was rotated away earlier revokes its whole family.
func (s *Service) Refresh(ctx context.Context, in domain.RefreshInput) (domain.Session, error) {
	claims, err := s.tokens.VerifyRefreshToken(in.RefreshToken)
	if err != nil {
		metrics.IncAuthOutcome("refresh", "failure")
		return domain.Session{}, domain.ErrRefreshTokenInvalid.Wrap(err)
	}

	rec, err := bounded.Call(ctx, "find_refresh_token", s.cfg.DBLookupTimeout, func(ctx context.Context) (domain.RefreshToken, error) {
		return s.refresh.Find(ctx, in.RefreshToken)
	})
	if err == nil && !rec.Active(s.now()) {
		err = domain.ErrRefreshTokenNotActive
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncAuthOutcome("refresh", "failure")
		return domain.Session{}, domain.ErrRefreshTokenInvalid
	case errors.Is(err, domain.ErrRefreshTokenNotActive):
		metrics.IncAuthOutcome("refresh", "failure")
		if s.isReuse(rec) {
			return domain.Session{}, s.revokeReusedFamily(ctx, rec, in)
		}
		return domain.Session{}, domain.ErrRefreshTokenInvalid
	case err != nil:
		s.outcome("refresh", err)
		return domain.Session{}, err
	}
	if rec.PrincipalID != claims.PrincipalID {
		metrics.IncAuthOutcome("refresh", "failure")
		return domain.Session{}, domain.ErrRefreshTokenInvalid
	}

	current, err := s.loader.Load(ctx, rec.PrincipalID)
	if err != nil {
		s.outcome("refresh", err)
		if domain.KindOf(err) == domain.KindUnauthenticated {
			return domain.Session{}, domain.ErrRefreshTokenInvalid.Wrap(err)
		}
		return domain.Session{}, err
	}

	var sess domain.Session
	if s.cfg.RefreshRotation {
		sess, err = s.rotateSession(ctx, current, claims.Remember, rec, in)
	} else {
		sess, err = s.issueAccessOnly(current, claims.Remember, in.RefreshToken)
	}
	if err != nil {
		s.outcome("refresh", err)
		return domain.Session{}, err
	}
	s.publish(ctx, evdomain.TypeRefreshSuccess, current, map[string]string{"ip": in.IP, "user_agent": in.UserAgent})
	metrics.IncAuthOutcome("refresh", "success")
	return sess, nil
}

// rotateSession mints the successor of rec and swaps it in. Losing the swap to a concurrent
// exchange or a logout reports the presented token as invalid.
func (s *Service) rotateSession(ctx context.Context, p *domain.CurrentPrincipal, remember bool, rec domain.RefreshToken, in domain.RefreshInput) (domain.Session, error) {
	parent := rec.ID
	sess, next, err := s.mintSession(p, remember, rec.FamilyID, &parent, in.UserAgent, in.IP)
	if err != nil {
		return domain.Session{}, err
	}
	err = bounded.Run(ctx, "rotate_refresh_token", s.cfg.DBWriteTimeout, func(ctx context.Context) error {
		return s.refresh.Rotate(ctx, in.RefreshToken, sess.RefreshToken, next)
	})
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrRefreshTokenNotActive) {
		return domain.Session{}, domain.ErrRefreshTokenInvalid
	}
	if err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Logout revokes the presented refresh token. Unknown, expired and already revoked tokens are
// accepted so repeated calls succeed.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	err := bounded.Run(ctx, "revoke_refresh_token", s.cfg.DBWriteTimeout, func(ctx context.Context) error {
		return s.refresh.Revoke(ctx, refreshToken)
	})
	if err != nil {
		s.outcome("logout", err)
		return err
	}
	ev := evdomain.Event{Type: evdomain.TypeLogout, Time: s.now()}
	if claims, err := s.tokens.VerifyRefreshToken(refreshToken); err == nil {
		ev.PrincipalID = claims.PrincipalID
	}
	_ = s.pub.Publish(ctx, ev)
	metrics.IncAuthOutcome("logout", "success")
	return nil
}

// LogoutAll revokes every refresh token of the principal and reports how many were active.
func (s *Service) LogoutAll(ctx context.Context, p *domain.CurrentPrincipal) (int64, error) {
	if p == nil {
		return 0, domain.ErrUnauthenticated
	}
	n, err := bounded.Call(ctx, "revoke_all_refresh_tokens", s.cfg.DBWriteTimeout, func(ctx context.Context) (int64, error) {
		return s.refresh.RevokeAllForPrincipal(ctx, p.ID)
	})
	if err != nil {
		s.outcome("logout", err)
		return 0, err
	}
	s.publish(ctx, evdomain.TypeLogoutAll, p, nil)
	metrics.IncAuthOutcome("logout", "success")
	return n, nil
}

// PurgeExpired removes refresh tokens past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := bounded.Call(ctx, "purge_refresh_tokens", purgeTimeout, s.refresh.PurgeExpired)
	if err != nil {
		return 0, err
	}
	metrics.AddRefreshPurged(n)
	return n, nil
}

// issueSession signs a token pair for a new family and persists the refresh token before
// returning.
func (s *Service) issueSession(ctx context.Context, p *domain.CurrentPrincipal, remember bool, userAgent, ip string) (domain.Session, error) {
	sess, rec, err := s.mintSession(p, remember, uuid.Nil, nil, userAgent, ip)
	if err != nil {
		return domain.Session{}, err
	}
	err = bounded.Run(ctx, "save_refresh_token", s.cfg.DBWriteTimeout, func(ctx context.Context) error {
		return s.refresh.Save(ctx, sess.RefreshToken, rec)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// mintSession signs a token pair and builds the refresh token record without storing it. A zero
// family starts a new one.
func (s *Service) mintSession(p *domain.CurrentPrincipal, remember bool, family uuid.UUID, parent *uuid.UUID, userAgent, ip string) (domain.Session, domain.RefreshToken, error) {
	accessTTL := s.tokens.AccessTTL(remember)
	access, _, err := s.tokens.IssueAccessToken(identityOf(p), accessTTL)
	if err != nil {
		return domain.Session{}, domain.RefreshToken{}, domain.ErrInternal.Wrap(err)
	}
	refresh, meta, err := s.tokens.IssueRefreshToken(token.Refresh{
		PrincipalID: p.ID,
		FamilyID:    family,
		Remember:    remember,
	}, s.tokens.RefreshTTL(remember))
	if err != nil {
		return domain.Session{}, domain.RefreshToken{}, domain.ErrInternal.Wrap(err)
	}
	rec := domain.RefreshToken{
		ID:          meta.ID,
		PrincipalID: p.ID,
		FamilyID:    meta.FamilyID,
		ParentID:    parent,
		Remember:    remember,
		UserAgent:   userAgent,
		IP:          ip,
		ExpiresAt:   meta.ExpiresAt,
		CreatedAt:   s.now(),
	}
	return domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(accessTTL / time.Second),
		Principal:    p,
	}, rec, nil
}

func (s *Service) issueAccessOnly(p *domain.CurrentPrincipal, remember bool, refresh string) (domain.Session, error) {
	accessTTL := s.tokens.AccessTTL(remember)
	access, _, err := s.tokens.IssueAccessToken(identityOf(p), accessTTL)
	if err != nil {
		return domain.Session{}, domain.ErrInternal.Wrap(err)
	}
	return domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(accessTTL / time.Second),
		Principal:    p,
	}, nil
}

func (s *Service) isReuse(rec domain.RefreshToken) bool {
	if !s.cfg.RefreshRotation || rec.RevokedAt == nil || rec.RevokedReason != domain.RevokedRotated {
		return false
	}
	return s.now().Sub(*rec.RevokedAt) > reuseGrace
}

func (s *Service) revokeReusedFamily(ctx context.Context, rec domain.RefreshToken, in domain.RefreshInput) error {
	err := bounded.Run(ctx, "revoke_refresh_family", s.cfg.DBWriteTimeout, func(ctx context.Context) error {
		return s.refresh.RevokeFamily(ctx, rec.FamilyID)
	})
	if err != nil {
		s.log.Error().Err(err).Str("family_id", rec.FamilyID.String()).Msg("failed to revoke reused refresh family")
	}
	metrics.IncRefreshReuse()
	s.log.Warn().
		Str("principal_id", rec.PrincipalID.String()).
		Str("family_id", rec.FamilyID.String()).
		Str("ip", in.IP).
		Msg("refresh token reuse detected")
	_ = s.pub.Publish(ctx, evdomain.Event{
		Type:        evdomain.TypeRefreshReuse,
		PrincipalID: rec.PrincipalID,
		Meta:        map[string]string{"family_id": rec.FamilyID.String(), "ip": in.IP, "user_agent": in.UserAgent},
		Time:        s.now(),
	})
	return domain.ErrRefreshTokenReused
}

func (s *Service) loginFailed(ctx context.Context, p domain.Principal, reason string, in domain.LoginInput) {
	metrics.IncAuthOutcome("login", "failure")
	_ = s.pub.Publish(ctx, evdomain.Event{
		Type:        evdomain.TypeLoginFailure,
		TenantID:    p.TenantID,
		CompanyID:   p.CompanyID,
		PrincipalID: p.ID,
		Meta:        map[string]string{"reason": reason, "ip": in.IP, "user_agent": in.UserAgent},
		Time:        s.now(),
	})
}

func (s *Service) publish(ctx context.Context, typ string, p *domain.CurrentPrincipal, meta map[string]string) {
	_ = s.pub.Publish(ctx, evdomain.Event{
		Type:        typ,
		TenantID:    p.TenantID,
		CompanyID:   p.CompanyID,
		PrincipalID: p.ID,
		Meta:        meta,
		Time:        s.now(),
	})
}

func (s *Service) outcome(action string, err error) {
	result := "failure"
	if domain.KindOf(err) == domain.KindInternalTimeout {
		result = "timeout"
	}
	metrics.IncAuthOutcome(action, result)
}

func identityOf(p *domain.CurrentPrincipal) token.Identity {
	return token.Identity{
		PrincipalID: p.ID,
		Email:       p.Email,
		Username:    p.Username,
		CompanyID:   p.CompanyID,
		TenantID:    p.TenantID,
		Roles:       domain.RoleNames(p.Roles),
	}
}
