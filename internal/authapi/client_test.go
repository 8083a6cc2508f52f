package authapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/console/internal/backendtest"
	"github.com/medicore/console/internal/session"
)

func nurseAccount() backendtest.Account {
	return backendtest.Account{
		Email:     "a@b.com",
		Password:  "x",
		FirstName: "A",
		LastName:  "B",
		Roles:     []string{session.RoleNurse},
	}
}

func TestClient_Login(t *testing.T) {
	t.Run("success returns body with status flag", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		client := NewClient(backend.URL(), nil)
		resp, err := client.Login(context.Background(), "a@b.com", "x")
		require.NoError(t, err)
		assert.True(t, resp.OK())
		assert.NotEmpty(t, resp.AccessToken)
		require.NotNil(t, resp.User)
		assert.Equal(t, "a@b.com", resp.User.Email)
		assert.Equal(t, []string{session.RoleNurse}, resp.NormalizedRoles().Names())
	})

	t.Run("bad credentials decode the error body, no transport error", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		client := NewClient(backend.URL(), nil)
		resp, err := client.Login(context.Background(), "a@b.com", "wrong")
		require.NoError(t, err)
		assert.False(t, resp.OK())
		assert.Equal(t, "Invalid email or password", resp.Message)
	})

	t.Run("unreachable backend propagates transport error", func(t *testing.T) {
		backend := backendtest.New()
		url := backend.URL()
		backend.Close()

		client := NewClient(url, nil)
		_, err := client.Login(context.Background(), "a@b.com", "x")
		require.Error(t, err)
	})

	t.Run("legacy single role key", func(t *testing.T) {
		backend := backendtest.New(backendtest.Account{
			Email: "d@h.org", Password: "x",
			Roles: []string{session.RoleDoctor}, LegacyRoleKey: true,
		})
		defer backend.Close()

		client := NewClient(backend.URL(), nil)
		resp, err := client.Login(context.Background(), "d@h.org", "x")
		require.NoError(t, err)
		assert.True(t, resp.OK())
		assert.Equal(t, []string{session.RoleDoctor}, resp.NormalizedRoles().Names())
	})

	t.Run("numeric hospital id", func(t *testing.T) {
		backend := backendtest.New(backendtest.Account{
			Email: "r@h.org", Password: "x",
			Roles: []string{session.RoleReceptionist}, HospitalID: "42", NumericHospitalID: true,
		})
		defer backend.Close()

		client := NewClient(backend.URL(), nil)
		resp, err := client.Login(context.Background(), "r@h.org", "x")
		require.NoError(t, err)
		assert.Equal(t, session.FlexID("42"), resp.HospitalID)
	})
}

func TestClient_Refresh(t *testing.T) {
	t.Run("refresh uses the login cookie", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		client := NewClient(backend.URL(), nil)
		login, err := client.Login(context.Background(), "a@b.com", "x")
		require.NoError(t, err)

		resp, err := client.Refresh(context.Background())
		require.NoError(t, err)
		assert.True(t, resp.OK())
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEqual(t, login.AccessToken, resp.AccessToken)
	})

	t.Run("refresh without a cookie is denied in the body", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()

		client := NewClient(backend.URL(), nil)
		resp, err := client.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, resp.OK())
	})

	t.Run("broken backend surfaces a transport-level error", func(t *testing.T) {
		backend := backendtest.New(nurseAccount())
		defer backend.Close()
		backend.RefreshBroken = true

		client := NewClient(backend.URL(), nil)
		_, err := client.Refresh(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestClient_Logout(t *testing.T) {
	backend := backendtest.New(nurseAccount())
	defer backend.Close()

	client := NewClient(backend.URL(), nil)
	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, 1, backend.LogoutCalls)
}

func TestClient_ChangePassword(t *testing.T) {
	backend := backendtest.New(nurseAccount())
	defer backend.Close()

	client := NewClient(backend.URL(), nil)

	resp, err := client.ChangePassword(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.True(t, resp.OK())

	resp, err = client.ChangePassword(context.Background(), "x", "x")
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.NotEmpty(t, resp.Message)
}

func TestClient_PasswordReset(t *testing.T) {
	backend := backendtest.New(nurseAccount())
	defer backend.Close()

	client := NewClient(backend.URL(), nil)

	forgot, err := client.ForgotPassword(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.True(t, forgot.OK())

	reset, err := client.ResetPassword(context.Background(), "some-token", "new-password")
	require.NoError(t, err)
	assert.True(t, reset.OK())

	reset, err = client.ResetPassword(context.Background(), "expired-token", "new-password")
	require.NoError(t, err)
	assert.False(t, reset.OK())
	assert.NotEmpty(t, reset.Message)
}

func TestEnvelope_Decode(t *testing.T) {
	var e Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"status":1,"message":"ok"}`), &e))
	assert.True(t, e.OK())

	var e2 Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"status":0}`), &e2))
	assert.False(t, e2.OK())
}
