package auth

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"storefront/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Dialect: storage.Memory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	c := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(NewRepository(db), time.Hour, log.New(io.Discard, "", 0),
		WithBcryptCost(bcrypt.MinCost), WithClock(c.Now))
	return svc, c
}

func register(t *testing.T, svc *Service, email string) User {
	t.Helper()
	u, err := svc.Register(context.Background(), Registration{Name: "Ada", Email: email, Password: "correct horse", ShopName: "Corner Shop"})
	require.NoError(t, err)
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	u := register(t, svc, "  Ada@Example.COM ")
	assert.NotZero(t, u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Corner Shop", u.ShopName)

	session, err := svc.Login(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Len(t, session.Token, 64)
	assert.Equal(t, u.ID, session.User.ID)
	assert.True(t, session.ExpiresAt.Equal(c.Now().Add(time.Hour)))

	id, err := svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	again, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, session.Token, again.Token)
}

func TestRegisterRejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "taken@example.com")

	cases := []struct {
		name string
		in   Registration
	}{
		{"missing name", Registration{Email: "a@example.com", Password: "longenough"}},
		{"bad email", Registration{Name: "A", Email: "nope", Password: "longenough"}},
		{"short password", Registration{Name: "A", Email: "a@example.com", Password: "short"}},
		{"password over 72 bytes", Registration{Name: "A", Email: "a@example.com", Password: strings.Repeat("p", 80)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	_, err := svc.Register(ctx, Registration{Name: "B", Email: "TAKEN@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterAcceptsLongestPassword(t *testing.T) {
	svc, _ := newTestService(t)
	password := strings.Repeat("p", 72)

	_, err := svc.Register(context.Background(), Registration{Name: "A", Email: "a@example.com", Password: password})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), "a@example.com", password)
	require.NoError(t, err)
}

func TestRegisterStoresBareAddress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, Registration{Name: "Ann", Email: "Ann <Ann@X.io>", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "ann@x.io", u.Email)

	_, err = svc.Login(ctx, "ann@x.io", "correct horse")
	require.NoError(t, err)

	_, err = svc.Register(ctx, Registration{Name: "Ann", Email: "ann@x.io", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "ada@example.com")

	_, err := svc.Login(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()
	register(t, svc, "ada@example.com")

	_, err := svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrUnauthorized)

	t.Run("logout revokes", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@example.com", "correct horse")
		require.NoError(t, err)
		require.NoError(t, svc.Logout(ctx, s.Token))
		_, err = svc.Authenticate(ctx, s.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)
		require.NoError(t, svc.Logout(ctx, s.Token))
	})

	t.Run("expiry", func(t *testing.T) {
		s, err := svc.Login(ctx, "ada@example.com", "correct horse")
		require.NoError(t, err)

		c.advance(59 * time.Minute)
		_, err = svc.Authenticate(ctx, s.Token)
		require.NoError(t, err)

		c.advance(time.Minute)
		_, err = svc.Authenticate(ctx, s.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)

		// Rewinding does not bring the expired session back.
		c.advance(-time.Hour)
		_, err = svc.Authenticate(ctx, s.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u := register(t, svc, "ada@example.com")

	got, err := svc.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)

	updated, err := svc.UpdateProfile(ctx, u.ID, " Ada L. ", " Bakery ")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", updated.Name)
	assert.Equal(t, "Bakery", updated.ShopName)
	assert.Equal(t, "ada@example.com", updated.Email)

	_, err = svc.UpdateProfile(ctx, u.ID, " ", "x")
	assert.True(t, IsValidation(err))

	_, err = svc.Profile(ctx, u.ID+100)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
