package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/console/internal/authapi"
	"github.com/medicore/console/internal/backendtest"
	"github.com/medicore/console/internal/session"
)

func newService(t *testing.T, backend *backendtest.Backend) (*Service, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewService(store, authapi.NewClient(backend.URL(), nil)), store
}

func nurseAccount() backendtest.Account {
	return backendtest.Account{
		Email:     "a@b.com",
		Password:  "x",
		FirstName: "A",
		LastName:  "B",
		Roles:     []string{session.RoleNurse},
	}
}

func TestService_Hydrate(t *testing.T) {
	t.Run("empty store leaves service unauthenticated but not loading", func(t *testing.T) {
		backend := backendtest.New()
		defer backend.Close()

		svc, _ := newService(t, backend)
		assert.True(t, svc.Loading())

		svc.Hydrate()
		assert.False(t, svc.Loading())
		assert.False(t, svc.IsAuthenticated())
		assert.Nil(t, svc.User())
	})

	t.Run("malformed stored session hydrates to logged out and purges storage", func(t *testing.T) {
		backend := backendtest.New()
		defer backend.Close()

		dir := t.TempDir()
		store, err := session.NewStore(dir)
		require.NoError(t, err)
		path := filepath.Join(dir, "session.json")
		require.NoError(t, os.WriteFile(path, []byte("##garbage##"), 0600))

		svc := NewService(store, authapi.NewClient(backend.URL(), nil))
		svc.Hydrate()

		assert.False(t, svc.Loading())
		assert.False(t, svc.IsAuthenticated())
		assert.Nil(t, svc.User())

		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("full session restores the user", func(t *testing.T) {
		backend := backendtest.New()
		defer backend.Close()

		svc, store := newService(t, backend)
		user := &session.User{ID: "u1", Email: "a@b.com", Roles: session.RoleList{{Name: session.RoleDoctor}}}
		require.NoError(t, store.Save(&session.Session{AccessToken: "T1", User: user}))

		svc.Hydrate()
		assert.True(t, svc.IsAuthenticated())
		assert.Equal(t, session.RoleDoctor, svc.UserRole())
	})
}

func TestService_Login(t *testing.T) {
	t.Run("success persists session and updates state", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		svc, store := newService(t, backend)
		svc.Hydrate()

		res := svc.Login(context.Background(), "a@b.com", "x")
		require.True(t, res.Success, res.Message)
		assert.True(t, svc.IsAuthenticated())
		assert.True(t, svc.HasRole(session.RoleNurse))
		assert.Equal(t, session.RoleNurse, svc.UserRole())

		sess, err := store.Load()
		require.NoError(t, err)
		assert.NotEmpty(t, sess.AccessToken)
		assert.Equal(t, "a@b.com", sess.User.Email)
		assert.Equal(t, []string{session.RoleNurse}, sess.User.Roles.Names())
	})

	t.Run("survives a simulated restart", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		svc, store := newService(t, backend)
		svc.Hydrate()
		require.True(t, svc.Login(context.Background(), "a@b.com", "x").Success)

		// new service over the same store, as after a process restart
		restarted := NewService(store, authapi.NewClient(backend.URL(), nil))
		restarted.Hydrate()

		assert.True(t, restarted.IsAuthenticated())
		assert.Equal(t, svc.User().Email, restarted.User().Email)
		assert.Equal(t, svc.UserRole(), restarted.UserRole())
	})

	t.Run("bad credentials return the backend message and change nothing", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		svc, store := newService(t, backend)
		svc.Hydrate()

		res := svc.Login(context.Background(), "a@b.com", "wrong")
		assert.False(t, res.Success)
		assert.Equal(t, "Invalid email or password", res.Message)
		assert.False(t, svc.IsAuthenticated())

		_, err := store.Load()
		assert.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("failed login does not disturb an existing session", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		svc, store := newService(t, backend)
		svc.Hydrate()
		require.True(t, svc.Login(context.Background(), "a@b.com", "x").Success)

		res := svc.Login(context.Background(), "a@b.com", "wrong")
		assert.False(t, res.Success)
		assert.True(t, svc.IsAuthenticated())

		sess, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", sess.User.Email)
	})

	t.Run("transport failure yields a message, never a panic", func(t *testing.T) {
		backend := backendtest.New()
		url := backend.URL()
		backend.Close()

		store, err := session.NewStore(t.TempDir())
		require.NoError(t, err)
		svc := NewService(store, authapi.NewClient(url, nil))
		svc.Hydrate()

		res := svc.Login(context.Background(), "a@b.com", "x")
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Message)
	})

	t.Run("roles as objects normalize to the same shape", func(t *testing.T) {
		backend := backendtest.New(backendtest.Account{
			Email: "s@h.org", Password: "x",
			Roles: []string{session.RoleSuperAdmin}, ObjectRoles: true,
		})
		defer backend.Close()

		svc, _ := newService(t, backend)
		svc.Hydrate()

		require.True(t, svc.Login(context.Background(), "s@h.org", "x").Success)
		assert.True(t, svc.IsSuperAdmin())
	})

	t.Run("tenant id is persisted alongside the session", func(t *testing.T) {
		backend := backendtest.New(backendtest.Account{
			Email: "r@h.org", Password: "x",
			Roles: []string{session.RoleReceptionist}, HospitalID: "42", NumericHospitalID: true,
		})
		defer backend.Close()

		svc, store := newService(t, backend)
		svc.Hydrate()
		require.True(t, svc.Login(context.Background(), "r@h.org", "x").Success)

		sess, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, "42", sess.HospitalID)
		assert.Equal(t, "42", sess.User.HospitalID)
	})
}

func TestService_Logout(t *testing.T) {
	t.Run("clears state and storage", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		svc, store := newService(t, backend)
		svc.Hydrate()
		require.True(t, svc.Login(context.Background(), "a@b.com", "x").Success)

		svc.Logout(context.Background())
		assert.False(t, svc.IsAuthenticated())
		assert.Nil(t, svc.User())
		assert.Equal(t, 1, backend.LogoutCalls)

		_, err := store.Load()
		assert.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("remote failure still tears the session down", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		svc, store := newService(t, backend)
		svc.Hydrate()
		require.True(t, svc.Login(context.Background(), "a@b.com", "x").Success)

		// backend gone before logout
		backend.Close()

		svc.Logout(context.Background())
		assert.False(t, svc.IsAuthenticated())

		_, err := store.Load()
		assert.ErrorIs(t, err, session.ErrNoSession)
	})
}

func TestService_RoleQueries(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()

	t.Run("fail closed with no user", func(t *testing.T) {
		svc, _ := newService(t, backend)
		svc.Hydrate()

		assert.False(t, svc.IsSuperAdmin())
		assert.False(t, svc.HasRole(session.RoleDoctor))
		assert.Empty(t, svc.UserRole())
	})

	t.Run("fail closed with empty role list", func(t *testing.T) {
		svc, store := newService(t, backend)
		user := &session.User{ID: "u1", Email: "a@b.com"}
		require.NoError(t, store.Save(&session.Session{AccessToken: "T1", User: user}))
		svc.Hydrate()

		assert.True(t, svc.IsAuthenticated())
		assert.False(t, svc.IsSuperAdmin())
		assert.False(t, svc.HasRole(session.RoleNurse))
		assert.Empty(t, svc.UserRole())
	})
}

func TestService_ChangePassword(t *testing.T) {
	backend := backendtest.New(nurseAccount())
	defer backend.Close()

	svc, _ := newService(t, backend)
	svc.Hydrate()

	res := svc.ChangePassword(context.Background(), "x", "y")
	assert.True(t, res.Success)

	res = svc.ChangePassword(context.Background(), "x", "x")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
}
