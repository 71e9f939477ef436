// AngelaMos | 2026
// service_test.go

package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/auth-service/internal/core"
)

type fakeUser struct {
	info     UserInfo
	password string
}

// fakeDirectory stores plain passwords; hashing is exercised elsewhere.
type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]*fakeUser
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[string]*fakeUser)}
}

func (d *fakeDirectory) FindByUsernameOrEmail(
	_ context.Context,
	identifier string,
) (*UserInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if strings.EqualFold(u.info.Username, identifier) ||
			strings.EqualFold(u.info.Email, identifier) {
			info := u.info
			return &info, nil
		}
	}
	return nil, core.ErrNotFound
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (*UserInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	info := u.info
	return &info, nil
}

func (d *fakeDirectory) ExistsByUsername(_ context.Context, username string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if strings.EqualFold(u.info.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) ExistsByEmail(_ context.Context, email string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if strings.EqualFold(u.info.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) Create(
	_ context.Context,
	username, email, passwordHash string,
	role Role,
) (*UserInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := UserInfo{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		Role:     role,
	}
	d.users[info.ID] = &fakeUser{info: info, password: passwordHash}
	return &info, nil
}

func (d *fakeDirectory) VerifyPassword(
	ctx context.Context,
	usernameOrEmail, password string,
) (*UserInfo, error) {
	info, err := d.FindByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users[info.ID].password != password {
		return nil, ErrInvalidCredentials
	}
	return info, nil
}

func (d *fakeDirectory) setRole(id string, role Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id].info.Role = role
}

type serviceFixture struct {
	svc    *Service
	engine *RotationEngine
	repo   Repository
	users  *fakeDirectory
	jwt    *JWTManager
	clock  *core.ManualClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	ef := newEngineFixture(t)
	jwtManager, err := NewJWTManager(testJWTConfig(), ef.clock)
	require.NoError(t, err)

	users := newFakeDirectory()
	svc := NewService(ef.engine, jwtManager, users, users, ServiceConfig{
		Retention: 24 * time.Hour,
		Clock:     ef.clock,
		HashPassword: func(p string) (string, error) {
			return p, nil
		},
	})

	return &serviceFixture{
		svc:    svc,
		engine: ef.engine,
		repo:   ef.repo,
		users:  users,
		jwt:    jwtManager,
		clock:  ef.clock,
	}
}

func (f *serviceFixture) signup(t *testing.T, username, email string) *TokenResponse {
	t.Helper()

	resp, err := f.svc.Signup(context.Background(), SignupRequest{
		Username: username,
		Email:    email,
		Password: "correct-horse",
	})
	require.NoError(t, err)
	return resp
}

func TestSignupIssuesTokenPair(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.signup(t, "ada", "Ada@Example.com")

	assert.Equal(t, RoleCandidate, resp.Role)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.NotEmpty(t, resp.RefreshToken)

	verified, err := f.jwt.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "CANDIDATE", verified.Claims[ClaimRole])
	assert.Equal(t, "ada", verified.Claims[ClaimUsername])

	taken, err := f.users.ExistsByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestSignupRejectsTakenIdentity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "ada", "ada@example.com")

	_, err := f.svc.Signup(ctx, SignupRequest{
		Username: "ADA",
		Email:    "other@example.com",
		Password: "correct-horse",
	})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.Signup(ctx, SignupRequest{
		Username: "grace",
		Email:    "  ADA@example.com ",
		Password: "correct-horse",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginStartsNewFamilyEachTime(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "ada", "ada@example.com")

	first, err := f.svc.Login(ctx, LoginRequest{UsernameOrEmail: "ada", Password: "correct-horse"})
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, LoginRequest{UsernameOrEmail: "ADA@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	a, err := f.repo.FindByHash(ctx, core.HashToken(first.RefreshToken))
	require.NoError(t, err)
	b, err := f.repo.FindByHash(ctx, core.HashToken(second.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, a.FamilyID, b.FamilyID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "ada", "ada@example.com")

	_, err := f.svc.Login(ctx, LoginRequest{UsernameOrEmail: "ada", Password: "wrong-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginRequest{UsernameOrEmail: "nobody", Password: "correct-horse"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginPrunesLongExpiredRecords(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	f.clock.Advance(testRefreshTTL + 48*time.Hour)

	_, err := f.svc.Login(ctx, LoginRequest{UsernameOrEmail: "ada", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = f.repo.FindByHash(ctx, core.HashToken(signup.RefreshToken))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestLoginKeepsRecentlyExpiredRecords(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	f.clock.Advance(testRefreshTTL + time.Hour)

	_, err := f.svc.Login(ctx, LoginRequest{UsernameOrEmail: "ada", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, signup.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshReuseDetected)
}

func TestRefreshRotatesAndReflectsCurrentRole(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	me, err := f.users.FindByUsernameOrEmail(ctx, "ada")
	require.NoError(t, err)
	f.users.setRole(me.ID, RoleRecruiter)

	refreshed, err := f.svc.Refresh(ctx, signup.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, signup.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, RoleRecruiter, refreshed.Role)

	verified, err := f.jwt.Verify(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, me.ID, verified.Subject)
	assert.Equal(t, "RECRUITER", verified.Claims[ClaimRole])
}

func TestRefreshReplayIsInvalid(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	refreshed, err := f.svc.Refresh(ctx, signup.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, signup.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, refreshed.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogoutThenRefreshFails(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	require.NoError(t, f.svc.Logout(ctx, signup.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, signup.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, "garbage"))

	_, err := f.svc.Refresh(ctx, signup.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestServiceRevokeFamily(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	rec, err := f.repo.FindByHash(ctx, core.HashToken(signup.RefreshToken))
	require.NoError(t, err)

	revoked, err := f.svc.RevokeFamily(ctx, rec.UserID, rec.FamilyID)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	_, err = f.svc.Refresh(ctx, signup.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestGetCurrentUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "ada", "ada@example.com")

	info, err := f.users.FindByUsernameOrEmail(ctx, "ada")
	require.NoError(t, err)

	me, err := f.svc.GetCurrentUser(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", me.Username)
	assert.Equal(t, "ada@example.com", me.Email)

	_, err = f.svc.GetCurrentUser(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

// flakyDirectory fails the next failures lookups by ID with the store down.
type flakyDirectory struct {
	*fakeDirectory
	failures int
}

func (d *flakyDirectory) GetByID(ctx context.Context, id string) (*UserInfo, error) {
	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, fmt.Errorf("get user: %w", core.ErrStoreUnavailable)
	}
	d.mu.Unlock()
	return d.fakeDirectory.GetByID(ctx, id)
}

func TestRefreshUserLookupFailureKeepsSecretValid(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	flaky := &flakyDirectory{fakeDirectory: f.users, failures: 1}
	svc := NewService(f.engine, f.jwt, flaky, flaky, ServiceConfig{Clock: f.clock})

	_, err := svc.Refresh(ctx, signup.RefreshToken)
	require.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidRefreshToken)
	assert.NotContains(t, err.Error(), "get user: get user")

	rec, err := f.repo.FindByHash(ctx, core.HashToken(signup.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State(f.clock.Now()))

	refreshed, err := svc.Refresh(ctx, signup.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, signup.RefreshToken, refreshed.RefreshToken)
}

func TestRefreshForDeletedUserDoesNotCascade(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	signup := f.signup(t, "ada", "ada@example.com")

	rec, err := f.repo.FindByHash(ctx, core.HashToken(signup.RefreshToken))
	require.NoError(t, err)
	sibling, err := f.engine.Issue(ctx, rec.UserID, rec.FamilyID)
	require.NoError(t, err)

	f.users.mu.Lock()
	delete(f.users.users, rec.UserID)
	f.users.mu.Unlock()

	_, err = f.svc.Refresh(ctx, signup.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.NotErrorIs(t, err, ErrRefreshReuseDetected)

	for _, secret := range []string{signup.RefreshToken, sibling.Secret} {
		got, findErr := f.repo.FindByHash(ctx, core.HashToken(secret))
		require.NoError(t, findErr)
		assert.False(t, got.Revoked)
	}
}

// racedDirectory reports names as free but loses the insert, as when two
// signups for the same name interleave.
type racedDirectory struct {
	*fakeDirectory
}

func (racedDirectory) ExistsByUsername(context.Context, string) (bool, error) {
	return false, nil
}

func (racedDirectory) ExistsByEmail(context.Context, string) (bool, error) {
	return false, nil
}

func (racedDirectory) Create(context.Context, string, string, string, Role) (*UserInfo, error) {
	return nil, fmt.Errorf("create user: %w", ErrUsernameTaken)
}

func TestSignupLostInsertRaceIsNotRewrapped(t *testing.T) {
	f := newServiceFixture(t)
	users := racedDirectory{fakeDirectory: f.users}
	svc := NewService(f.engine, f.jwt, users, users, ServiceConfig{Clock: f.clock})

	_, err := svc.Signup(context.Background(), SignupRequest{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "correct-horse",
	})
	require.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, "create user: username already exists", err.Error())
}
