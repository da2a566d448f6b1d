package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"instant/cmd/identity"
	"instant/cmd/security/password"
	"instant/cmd/security/token"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Issuer = "instant-test"
	cfg.AccessSecret = []byte("access-secret-0123456789abcdefghijkl")
	cfg.RefreshSecret = []byte("refresh-secret-0123456789abcdefghijk")
	cfg.AccessTTL = time.Minute
	cfg.RefreshTTL = time.Hour
	cfg.SwapAttempts = 32
	cfg.SwapBackoff = time.Millisecond
	return cfg
}

func fastHasher() *password.Hasher {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return password.NewHasher(cfg)
}

type fixture struct {
	svc   *Service
	users *identity.MemoryStore
	clock *testClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := &testClock{now: time.Now().UTC()}
	users := identity.NewMemoryStore()
	svc, err := NewService(testConfig(), users, fastHasher(), WithClock(clock.Now))
	require.NoError(t, err)
	return fixture{svc: svc, users: users, clock: clock}
}

func (f fixture) register(t *testing.T, username, email, pw string) identity.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: pw})
	require.NoError(t, err)
	return u
}

func (f fixture) login(t *testing.T, identifier, pw string) Issued {
	t.Helper()
	is, err := f.svc.Login(context.Background(), identifier, pw)
	require.NoError(t, err)
	return is
}

func (f fixture) liveTokens(t *testing.T, userID string) []string {
	t.Helper()
	u, err := f.users.FindByID(context.Background(), userID)
	require.NoError(t, err)
	return u.RefreshTokens
}

func assertKind(t *testing.T, err error, kind error, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	assert.Equal(t, msg, Message(err))
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   RegisterInput
		msg  string
	}{
		{"no username", RegisterInput{Email: "a@x.com", Password: "pw"}, MsgUsernameMissing},
		{"blank username", RegisterInput{Username: "  ", Email: "a@x.com", Password: "pw"}, MsgUsernameMissing},
		{"no email", RegisterInput{Username: "a", Password: "pw"}, MsgEmailMissing},
		{"no password", RegisterInput{Username: "a", Email: "a@x.com"}, MsgPasswordMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.in)
			assertKind(t, err, ErrValidation, tt.msg)
		})
	}
}

func TestRegister_Conflicts(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	assert.Len(t, u.ID, 26)
	assert.Empty(t, u.RefreshTokens)

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "other@x.com", Password: "pw2"})
	assertKind(t, err, ErrConflict, MsgUsernameTaken)

	_, err = f.svc.Register(context.Background(), RegisterInput{Username: "BOB", Email: "other@x.com", Password: "pw2"})
	assertKind(t, err, ErrConflict, MsgUsernameTaken)

	_, err = f.svc.Register(context.Background(), RegisterInput{Username: "robert", Email: "Bob@X.com", Password: "pw2"})
	assertKind(t, err, ErrConflict, MsgEmailTaken)
}

// conflictStore rejects every insert with a conflict on an unrecognized
// constraint.
type conflictStore struct {
	*identity.MemoryStore
}

func (conflictStore) Insert(context.Context, identity.User) error {
	return identity.ConflictError{Op: "test"}
}

func TestRegister_UnattributedConflictIsGeneric(t *testing.T) {
	svc, err := NewService(testConfig(), conflictStore{identity.NewMemoryStore()}, fastHasher())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "bob@x.com", Password: "pw1"})
	assertKind(t, err, ErrConflict, MsgAlreadyExists)
}

func TestRegister_PasswordPolicy(t *testing.T) {
	hcfg := password.DefaultConfig()
	hcfg.Params.MemoryKiB = 8 * 1024
	hcfg.Params.Iterations = 1
	hcfg.Policy.MinLength = 8
	svc, err := NewService(testConfig(), identity.NewMemoryStore(), password.NewHasher(hcfg))
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Username: "a", Email: "a@x.com", Password: "short"})
	assertKind(t, err, ErrValidation, "password too short")
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), " ", "pw")
	assertKind(t, err, ErrValidation, MsgIdentifierMissing)
	_, err = f.svc.Login(context.Background(), "bob", "")
	assertKind(t, err, ErrValidation, MsgPasswordMissing)
}

func TestLogin_BadCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob", "bob@x.com", "pw1")

	_, errUnknown := f.svc.Login(context.Background(), "nobody", "pw1")
	_, errWrong := f.svc.Login(context.Background(), "bob", "nope")

	assertKind(t, errUnknown, ErrBadCredentials, MsgBadCredentials)
	assertKind(t, errWrong, ErrBadCredentials, MsgBadCredentials)
}

func TestLogin_IssuesDistinctPairForSameSubject(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")

	for _, ident := range []string{"bob", "BOB", "bob@x.com"} {
		is := f.login(t, ident, "pw1")
		assert.NotEqual(t, is.AccessToken, is.RefreshToken)
		assert.Equal(t, u.ID, is.UserID)
		assert.Equal(t, "bob", is.Username)
		assert.Equal(t, "bob@x.com", is.Email)

		codec, err := token.NewCodec(testConfig().TokenConfig())
		require.NoError(t, err)
		av := codec.Verify(is.AccessToken, token.PurposeAccess, f.clock.Now())
		rv := codec.Verify(is.RefreshToken, token.PurposeRefresh, f.clock.Now())
		require.True(t, av.Valid())
		require.True(t, rv.Valid())
		assert.Equal(t, av.Claims.Subject, rv.Claims.Subject)
	}
	assert.Len(t, f.liveTokens(t, u.ID), 3)
}

func TestRefresh_RotatesInPlace(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	first := f.login(t, "bob", "pw1")
	second := f.login(t, "bob", "pw1")

	before := f.liveTokens(t, u.ID)
	require.Len(t, before, 2)

	next, err := f.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, next.RefreshToken)
	assert.Equal(t, "bob", next.Username)

	after := f.liveTokens(t, u.ID)
	require.Len(t, after, 2)
	assert.NotEqual(t, before[0], after[0], "first slot replaced")
	assert.Equal(t, before[1], after[1], "second slot untouched")

	_, err = f.svc.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_ReuseRevokesWholeFamily(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	a := f.login(t, "bob", "pw1")
	b := f.login(t, "bob", "pw1")

	rotated, err := f.svc.Refresh(context.Background(), a.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), a.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)
	assert.Empty(t, f.liveTokens(t, u.ID))

	_, err = f.svc.Refresh(context.Background(), b.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)
	_, err = f.svc.Refresh(context.Background(), rotated.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)
}

func TestRefresh_VerificationFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob", "bob@x.com", "pw1")
	is := f.login(t, "bob", "pw1")

	_, err := f.svc.Refresh(context.Background(), "")
	assertKind(t, err, ErrUnauthorized, MsgAuthMissing)

	_, err = f.svc.Refresh(context.Background(), "garbage")
	assertKind(t, err, ErrForbidden, MsgAuthFailed)

	_, err = f.svc.Refresh(context.Background(), is.AccessToken)
	assertKind(t, err, ErrForbidden, MsgAuthFailed)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Refresh(context.Background(), is.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgTokenExpired)
}

func TestRefresh_UnknownSubject(t *testing.T) {
	f := newFixture(t)
	codec, err := token.NewCodec(testConfig().TokenConfig())
	require.NoError(t, err)
	ghost, _, err := codec.Issue("01ARZ3NDEKTSV4RRFFQ69G5FAV", token.PurposeRefresh, f.clock.Now())
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), ghost)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)

	err = f.svc.Logout(context.Background(), ghost)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)
}

func TestLogout_SecondCallRevokes(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	a := f.login(t, "bob", "pw1")
	b := f.login(t, "bob", "pw1")

	require.NoError(t, f.svc.Logout(context.Background(), a.RefreshToken))
	assert.Len(t, f.liveTokens(t, u.ID), 1)

	err := f.svc.Logout(context.Background(), a.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)
	assert.Empty(t, f.liveTokens(t, u.ID))

	_, err = f.svc.Refresh(context.Background(), b.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgInvalidRequest)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	is := f.login(t, "bob", "pw1")

	sub, err := f.svc.Authenticate(context.Background(), is.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sub)

	_, err = f.svc.Authenticate(context.Background(), "")
	assertKind(t, err, ErrUnauthorized, MsgAuthMissing)

	_, err = f.svc.Authenticate(context.Background(), is.RefreshToken)
	assertKind(t, err, ErrForbidden, MsgAuthFailed)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Authenticate(context.Background(), is.AccessToken)
	assertKind(t, err, ErrForbidden, MsgJWTExpired)
}

func TestConcurrentRefresh_SameTokenHasOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	is := f.login(t, "bob", "pw1")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		forbids   int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(context.Background(), is.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrForbidden):
				forbids++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, forbids)
	// The losers took the revoke-all branch, which also kills the winner's token.
	assert.Empty(t, f.liveTokens(t, u.ID))
}

func TestConcurrentLogins_AllAppend(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Login(context.Background(), "bob", "pw1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	live := f.liveTokens(t, u.ID)
	assert.Len(t, live, n)
	seen := make(map[string]bool, n)
	for _, d := range live {
		assert.False(t, seen[d], "duplicate digest")
		seen[d] = true
	}
}

func TestConcurrentRefresh_DifferentTokensBothSucceed(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	a := f.login(t, "bob", "pw1")
	b := f.login(t, "bob", "pw1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tok := range []string{a.RefreshToken, b.RefreshToken} {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(context.Background(), tok)
		}(i, tok)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, f.liveTokens(t, u.ID), 2)
}

// staleStore reports every swap as stale.
type staleStore struct {
	*identity.MemoryStore
}

func (staleStore) SwapRefreshTokens(context.Context, string, []string, []string) error {
	return identity.OpError{Op: "test", Kind: identity.ErrStale}
}

func TestLogin_SwapRetriesExhausted(t *testing.T) {
	users := staleStore{identity.NewMemoryStore()}
	cfg := testConfig()
	cfg.SwapAttempts = 3
	svc, err := NewService(cfg, users, fastHasher())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "bob@x.com", Password: "pw1"})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "bob", "pw1")
	assertKind(t, err, ErrStore, MsgTryAgain)
	assert.True(t, identity.IsStale(err))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "bob", "bob@x.com", "pw1")
	ctx := context.Background()

	assertKind(t, f.svc.ChangePassword(ctx, u.ID, "", "x"), ErrValidation, MsgOldPasswordMiss)
	assertKind(t, f.svc.ChangePassword(ctx, u.ID, "pw1", ""), ErrValidation, MsgNewPasswordMiss)
	assertKind(t, f.svc.ChangePassword(ctx, u.ID, "wrong", "pw2"), ErrValidation, MsgOldPasswordWrong)
	assertKind(t, f.svc.ChangePassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "pw1", "pw2"), ErrNotFound, MsgUserNotFound)

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "pw1", "pw2"))
	_, err := f.svc.Login(ctx, "bob", "pw1")
	assertKind(t, err, ErrBadCredentials, MsgBadCredentials)
	f.login(t, "bob", "pw2")
}

func TestChangeEmailAndUsername(t *testing.T) {
	f := newFixture(t)
	bob := f.register(t, "bob", "bob@x.com", "pw1")
	f.register(t, "alice", "alice@x.com", "pw1")
	ctx := context.Background()

	assertKind(t, f.svc.ChangeEmail(ctx, bob.ID, " "), ErrValidation, MsgEmailMissing)
	assertKind(t, f.svc.ChangeEmail(ctx, bob.ID, "ALICE@x.com"), ErrConflict, MsgEmailTaken)
	assertKind(t, f.svc.ChangeUsername(ctx, bob.ID, ""), ErrValidation, MsgUsernameMissing)
	assertKind(t, f.svc.ChangeUsername(ctx, bob.ID, "Alice"), ErrConflict, MsgUsernameTaken)

	require.NoError(t, f.svc.ChangeEmail(ctx, bob.ID, "bobby@x.com"))
	require.NoError(t, f.svc.ChangeUsername(ctx, bob.ID, "bobby"))
	require.NoError(t, f.svc.ChangeUsername(ctx, bob.ID, "Bobby"), "own name in new case")

	is := f.login(t, "bobby@x.com", "pw1")
	assert.Equal(t, "Bobby", is.Username)
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "success", KindLabel(nil))
	assert.Equal(t, "error", KindLabel(errors.New("x")))
	assert.Equal(t, "forbidden", KindLabel(forbidden("op", "m")))
	assert.Equal(t, "store", KindLabel(storeFailure("op", "m", errors.New("x"))))
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	_, err := NewService(cfg, identity.NewMemoryStore(), fastHasher())
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewService(testConfig(), nil, fastHasher())
	assert.ErrorIs(t, err, ErrConfig)
}
