package yoto

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot2yoto/config"
	"spot2yoto/core/errs"
)

// fakeTimer 记录等待时长并立即返回
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (f *fakeTimer) calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	refreshed  int
	refreshErr error
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.refreshed++
	f.token = "fresh-token"
	return f.token, nil
}

func newTestClient(t *testing.T, r http.Handler, tokens TokenProvider) (*Client, *fakeTimer) {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	timer := &fakeTimer{}
	if tokens == nil {
		tokens = &fakeTokens{token: "test-token"}
	}
	c := NewClient(config.YotoConfig{}, config.SyncConfig{}, tokens,
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithTimer(timer))
	return c, timer
}

const cardsJSON = `{"cards":[{"cardId":"c1","title":"Bedtime","metadata":{"description":"https://open.spotify.com/playlist/abc"}}]}`

func TestRetryAfterAboveCapFailsWithoutSleeping(t *testing.T) {
	var hits int32
	r := mux.NewRouter()
	r.HandleFunc("/content/mine", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "999")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, timer := newTestClient(t, r, nil)

	start := time.Now()
	_, err := c.ListMYOCards(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsRateLimited(err))

	var ge *errs.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, 999*time.Second, ge.RetryAfter)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.Empty(t, timer.calls())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryAfterWithinCapIsHonoured(t *testing.T) {
	var hits int32
	r := mux.NewRouter()
	r.HandleFunc("/content/mine", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(cardsJSON))
	})
	c, timer := newTestClient(t, r, nil)

	cards, err := c.ListMYOCards(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "c1", cards[0].ID)
	assert.Equal(t, "Bedtime", cards[0].Title)
	assert.Equal(t, "https://open.spotify.com/playlist/abc", cards[0].Description)

	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{time.Second}, timer.calls())
}

func TestServerErrorsExhaustAttempts(t *testing.T) {
	var hits int32
	r := mux.NewRouter()
	r.HandleFunc("/content/mine", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusBadGateway)
	})
	c, timer := newTestClient(t, r, nil)

	_, err := c.ListMYOCards(context.Background())
	var ge *errs.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, errs.KindTransient, ge.Kind)
	assert.Equal(t, http.StatusBadGateway, ge.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.calls())
}

func TestUnauthorizedRefreshesOnce(t *testing.T) {
	tokens := &fakeTokens{token: "stale-token"}
	r := mux.NewRouter()
	r.HandleFunc("/content/mine", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(cardsJSON))
	})
	c, _ := newTestClient(t, r, tokens)

	cards, err := c.ListMYOCards(context.Background())
	require.NoError(t, err)
	assert.Len(t, cards, 1)
	assert.Equal(t, 1, tokens.refreshed)
}

func TestUnauthorizedRefreshFailureIsAuthError(t *testing.T) {
	var hits int32
	tokens := &fakeTokens{token: "stale-token", refreshErr: &errs.AuthError{Msg: "token refresh failed"}}
	r := mux.NewRouter()
	r.HandleFunc("/content/mine", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, r, tokens)

	_, err := c.ListMYOCards(context.Background())
	assert.True(t, errs.IsAuth(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestUnauthorizedAfterRefreshIsAuthError(t *testing.T) {
	var hits int32
	tokens := &fakeTokens{token: "stale-token"}
	r := mux.NewRouter()
	r.HandleFunc("/content/mine", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, r, tokens)

	_, err := c.ListMYOCards(context.Background())
	require.True(t, errs.IsAuth(err))
	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusUnauthorized, ge.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	assert.Equal(t, 2, tokens.refreshed)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	r := mux.NewRouter()
	r.HandleFunc("/content/{id}", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "not found", http.StatusNotFound)
	})
	c, timer := newTestClient(t, r, nil)

	_, err := c.GetCardContent(context.Background(), "missing")
	var ge *errs.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, errs.KindClient, ge.Kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.Empty(t, timer.calls())
}

func TestRetryAfterParsing(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 4*time.Second, retryAfter(h, 2))

	h.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, retryAfter(h, 0))

	h.Set("Retry-After", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	assert.Equal(t, time.Duration(0), retryAfter(h, 0))

	h.Set("Retry-After", "soon")
	assert.Equal(t, time.Second, retryAfter(h, 0))
}

func TestNewClientHonoursSyncSettings(t *testing.T) {
	c := NewClient(config.YotoConfig{}, config.SyncConfig{MaxRetries: 5, MaxRetryAfter: 10}, &fakeTokens{})
	assert.Equal(t, DefaultAPIBase, c.baseURL)
	assert.EqualValues(t, 5, c.maxAttempts)
	assert.Equal(t, 10*time.Second, c.maxRetryAfter)
}
