package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/token"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	evdomain "github.com/Matteomic94/ElementMedica-sub000/internal/events/domain"
)

type fakePrincipals struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]domain.Principal
	lastLogin chan uuid.UUID
}

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{byID: map[uuid.UUID]domain.Principal{}, lastLogin: make(chan uuid.UUID, 16)}
}

func (f *fakePrincipals) put(p domain.Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
}

func (f *fakePrincipals) FindByIdentifier(_ context.Context, identifier string) (domain.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.IsDeleted {
			continue
		}
		if strings.EqualFold(p.Email, identifier) || p.Username == identifier || (p.TaxCode != "" && p.TaxCode == identifier) {
			return p, nil
		}
	}
	return domain.Principal{}, domain.ErrNotFound
}

func (f *fakePrincipals) GetByID(_ context.Context, id uuid.UUID) (domain.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return domain.Principal{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePrincipals) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	p := f.byID[id]
	p.LastLogin = &at
	f.byID[id] = p
	f.mu.Unlock()
	f.lastLogin <- id
	return nil
}

type fakeRoles map[uuid.UUID][]domain.RoleAssignment

func (f fakeRoles) ListRoleAssignments(_ context.Context, id uuid.UUID) ([]domain.RoleAssignment, error) {
	return f[id], nil
}

type fakeDirectory struct {
	companies map[uuid.UUID]domain.CompanyRef
	tenants   map[uuid.UUID]domain.TenantRef
}

func (f fakeDirectory) Company(_ context.Context, id uuid.UUID) (domain.CompanyRef, error) {
	c, ok := f.companies[id]
	if !ok {
		return domain.CompanyRef{}, domain.ErrNotFound
	}
	return c, nil
}

func (f fakeDirectory) Tenant(_ context.Context, id uuid.UUID) (domain.TenantRef, error) {
	t, ok := f.tenants[id]
	if !ok {
		return domain.TenantRef{}, domain.ErrNotFound
	}
	return t, nil
}

// memRefresh is an in-memory RefreshTokenStore with the same single-use semantics as the real ones.
type memRefresh struct {
	mu     sync.Mutex
	byHash map[string]domain.RefreshToken
	now    func() time.Time
}

func newMemRefresh() *memRefresh {
	return &memRefresh{byHash: map[string]domain.RefreshToken{}, now: time.Now}
}

func (m *memRefresh) Save(_ context.Context, tok string, rec domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := domain.HashToken(tok)
	if _, ok := m.byHash[h]; ok {
		return errors.New("duplicate token")
	}
	rec.TokenHash = h
	m.byHash[h] = rec
	return nil
}

func (m *memRefresh) Find(_ context.Context, tok string) (domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byHash[domain.HashToken(tok)]
	if !ok {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memRefresh) Rotate(_ context.Context, tok, next string, successor domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := domain.HashToken(tok)
	rec, ok := m.byHash[h]
	if !ok {
		return domain.ErrNotFound
	}
	now := m.now()
	if !rec.Active(now) {
		return domain.ErrRefreshTokenNotActive
	}
	nh := domain.HashToken(next)
	if _, ok := m.byHash[nh]; ok {
		return errors.New("duplicate token")
	}
	rec.RevokedAt = &now
	rec.RevokedReason = domain.RevokedRotated
	m.byHash[h] = rec
	successor.TokenHash = nh
	m.byHash[nh] = successor
	return nil
}

func (m *memRefresh) Revoke(_ context.Context, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := domain.HashToken(tok)
	if rec, ok := m.byHash[h]; ok && rec.RevokedAt == nil {
		now := m.now()
		rec.RevokedAt = &now
		rec.RevokedReason = domain.RevokedLogout
		m.byHash[h] = rec
	}
	return nil
}

func (m *memRefresh) revokeWhere(match func(domain.RefreshToken) bool, reason string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.now()
	for h, rec := range m.byHash {
		if rec.RevokedAt == nil && match(rec) {
			rec.RevokedAt = &now
			rec.RevokedReason = reason
			m.byHash[h] = rec
			n++
		}
	}
	return n
}

func (m *memRefresh) RevokeFamily(_ context.Context, family uuid.UUID) error {
	m.revokeWhere(func(r domain.RefreshToken) bool { return r.FamilyID == family }, domain.RevokedReuse)
	return nil
}

func (m *memRefresh) RevokeAllForPrincipal(_ context.Context, id uuid.UUID) (int64, error) {
	return m.revokeWhere(func(r domain.RefreshToken) bool { return r.PrincipalID == id }, domain.RevokedAll), nil
}

func (m *memRefresh) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.now()
	for h, rec := range m.byHash {
		if !now.Before(rec.ExpiresAt) {
			delete(m.byHash, h)
			n++
		}
	}
	return n, nil
}

func (m *memRefresh) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}

// slowSave ignores its context and sleeps before saving.
type slowSave struct {
	*memRefresh
	delay time.Duration
}

func (s slowSave) Save(ctx context.Context, tok string, rec domain.RefreshToken) error {
	time.Sleep(s.delay)
	return s.memRefresh.Save(ctx, tok, rec)
}

// failingWrites rejects every write of a successor token while failing is set.
type failingWrites struct {
	*memRefresh
	mu      sync.Mutex
	failing bool
}

func (f *failingWrites) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *failingWrites) Rotate(ctx context.Context, tok, next string, successor domain.RefreshToken) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("connection reset by peer")
	}
	return f.memRefresh.Rotate(ctx, tok, next, successor)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []evdomain.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e evdomain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

const testPassword = "s3cret-passw0rd"

type fixture struct {
	svc        *Service
	principals *fakePrincipals
	refresh    *memRefresh
	tokens     *token.Service
	pub        *recordingPublisher
	alice      domain.Principal
	company    domain.CompanyRef
	tenant     domain.TenantRef
}

func testConfig() config.Config {
	return config.Config{
		JWTAccessSecret:         "test-access-secret",
		JWTRefreshSecret:        "test-refresh-secret",
		JWTIssuer:               "elementmedica-api",
		JWTAudience:             "elementmedica-app",
		AccessTokenTTL:          time.Hour,
		AccessTokenRememberTTL:  7 * 24 * time.Hour,
		RefreshTokenTTL:         7 * 24 * time.Hour,
		RefreshTokenRememberTTL: 30 * 24 * time.Hour,
		RefreshRotation:         true,
		DBLookupTimeout:         time.Second,
		DBWriteTimeout:          time.Second,
		SideEffectTimeout:       time.Second,
	}
}

func newFixture(t *testing.T, mutate func(*config.Config), store func(*memRefresh) domain.RefreshTokenStore) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	tokens, err := token.New(token.FromAppConfig(cfg))
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	tenant := domain.TenantRef{ID: uuid.New(), Name: "Acme Group"}
	company := domain.CompanyRef{ID: uuid.New(), TenantID: tenant.ID, Name: "Acme Srl"}
	alice := domain.Principal{
		ID:           uuid.New(),
		Email:        "alice@example.com",
		Username:     "alice",
		TaxCode:      "RSSMRA80A01H501U",
		PasswordHash: string(hash),
		CompanyID:    company.ID,
		TenantID:     tenant.ID,
		IsActive:     true,
	}
	principals := newFakePrincipals()
	principals.put(alice)
	roles := fakeRoles{alice.ID: {{ID: uuid.New(), PrincipalID: alice.ID, Role: domain.RoleCompanyAdmin, CompanyID: company.ID, IsActive: true}}}
	dir := fakeDirectory{
		companies: map[uuid.UUID]domain.CompanyRef{company.ID: company},
		tenants:   map[uuid.UUID]domain.TenantRef{tenant.ID: tenant},
	}

	mem := newMemRefresh()
	var rs domain.RefreshTokenStore = mem
	if store != nil {
		rs = store(mem)
	}
	loader := NewLoader(principals, NewResolver(roles, cfg.DBLookupTimeout), dir, cfg.DBLookupTimeout)
	svc := New(principals, rs, tokens, loader, cfg)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	return &fixture{svc: svc, principals: principals, refresh: mem, tokens: tokens, pub: pub, alice: alice, company: company, tenant: tenant}
}

func (f *fixture) login(t *testing.T, remember bool) domain.Session {
	t.Helper()
	sess, err := f.svc.Login(context.Background(), domain.LoginInput{Identifier: f.alice.Email, Password: testPassword, RememberMe: remember})
	require.NoError(t, err)
	return sess
}
