package yoto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot2yoto/config"
	"spot2yoto/core/errs"
	"spot2yoto/model"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewTokenStore(fs, "/tokens")

	tokens, err := store.Load("default")
	require.NoError(t, err)
	assert.Nil(t, tokens)

	want := &model.TokenData{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresAt: 1700000000}
	require.NoError(t, store.Save("default", want))
	require.NoError(t, store.Save("kids", want))

	info, err := fs.Stat("/tokens/default.json")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	got, err := store.Load("default")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	accounts, err := store.Accounts()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "kids"}, accounts)

	existed, err := store.Delete("kids")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Delete("kids")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestTokenStoreRejectsBadInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewTokenStore(fs, "/tokens")

	assert.Error(t, store.Save("../escape", &model.TokenData{AccessToken: "a"}))

	require.NoError(t, afero.WriteFile(fs, "/tokens/broken.json", []byte("{not json"), 0o600))
	tokens, err := store.Load("broken")
	require.NoError(t, err)
	assert.Nil(t, tokens)

	accounts, err := NewTokenStore(fs, "/missing").Accounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func newAuthServer(t *testing.T, tokenJSON string) *Authenticator {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/oauth/token", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "client-1", req.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokenJSON))
	}).Methods(http.MethodPost)
	r.HandleFunc("/oauth/device/code", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, apiAudience, req.PostForm.Get("audience"))
		assert.Equal(t, "offline_access", req.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dev-1","user_code":"ABCD-EFGH","verification_uri":"https://login/activate","verification_uri_complete":"https://login/activate?code=ABCD-EFGH","expires_in":300,"interval":1}`))
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	a, err := NewAuthenticator(config.YotoConfig{ClientID: "client-1", AuthBase: srv.URL}, srv.Client())
	require.NoError(t, err)
	return a
}

func TestAuthenticatorRequiresClientID(t *testing.T) {
	_, err := NewAuthenticator(config.YotoConfig{}, nil)
	var ce *errs.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestRefreshKeepsPreviousRefreshToken(t *testing.T) {
	a := newAuthServer(t, `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`)

	before := time.Now()
	td, err := a.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", td.AccessToken)
	assert.Equal(t, "old-refresh", td.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), td.Expiry(), 5*time.Second)

	_, err = a.Refresh(context.Background(), "")
	assert.True(t, errs.IsAuth(err))
}

func TestRefreshFallsBackToJWTExpiry(t *testing.T) {
	exp := time.Now().Add(90 * time.Minute).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	a := newAuthServer(t, `{"access_token":"`+access+`","refresh_token":"rotated","token_type":"Bearer"}`)
	td, err := a.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "rotated", td.RefreshToken)
	assert.WithinDuration(t, exp, td.Expiry(), time.Second)
}

func TestOpaqueTokenGetsDefaultLifetime(t *testing.T) {
	a := newAuthServer(t, `{"access_token":"opaque","token_type":"Bearer"}`)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	td, err := a.Refresh(context.Background(), "r")
	require.NoError(t, err)
	assert.WithinDuration(t, fixed.Add(24*time.Hour), td.Expiry(), time.Second)
}

func TestDeviceFlow(t *testing.T) {
	a := newAuthServer(t, `{"access_token":"device-access","refresh_token":"device-refresh","token_type":"Bearer","expires_in":600}`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	da, err := a.StartDeviceFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", da.UserCode)
	assert.Equal(t, "https://login/activate", da.VerificationURI)

	td, err := a.WaitForToken(ctx, da)
	require.NoError(t, err)
	assert.Equal(t, "device-access", td.AccessToken)
	assert.Equal(t, "device-refresh", td.RefreshToken)
}

type stubRefresher struct {
	calls int
	next  *model.TokenData
	err   error
}

func (s *stubRefresher) Refresh(_ context.Context, _ string) (*model.TokenData, error) {
	s.calls++
	return s.next, s.err
}

func TestSessionWithoutTokens(t *testing.T) {
	s := NewSession("default", NewTokenStore(afero.NewMemMapFs(), "/tokens"), nil)
	err := s.EnsureValid(context.Background())
	require.True(t, errs.IsAuth(err))
	assert.Contains(t, err.Error(), "spot2yoto auth yoto")
}

func TestSessionRefreshesExpiredTokens(t *testing.T) {
	store := NewTokenStore(afero.NewMemMapFs(), "/tokens")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save("default", &model.TokenData{
		AccessToken: "old", RefreshToken: "r1", ExpiresAt: float64(now.Add(-time.Minute).Unix()),
	}))

	refresher := &stubRefresher{next: &model.TokenData{
		AccessToken: "new", RefreshToken: "r2", ExpiresAt: float64(now.Add(time.Hour).Unix()),
	}}
	s := NewSession("default", store, nil)
	s.refresher = refresher
	s.now = func() time.Time { return now }

	token, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, 1, refresher.calls)

	saved, err := store.Load("default")
	require.NoError(t, err)
	assert.Equal(t, "r2", saved.RefreshToken)

	// 未过期不再刷新
	_, err = s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)

	token, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, 2, refresher.calls)
}

func TestSessionExpiredWithoutRefresher(t *testing.T) {
	store := NewTokenStore(afero.NewMemMapFs(), "/tokens")
	require.NoError(t, store.Save("default", &model.TokenData{AccessToken: "old", ExpiresAt: 1}))

	s := NewSession("default", store, nil)
	assert.True(t, errs.IsAuth(s.EnsureValid(context.Background())))
}
