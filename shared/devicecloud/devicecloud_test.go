package devicecloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// tokenServer counts exchanges and answers with a fixed TTL.
func tokenServer(t *testing.T, ttl int, exchanges *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, DefaultAudience, r.PostForm.Get("audience"))
		n := exchanges.Add(1)
		// Hold the response briefly so concurrent callers overlap.
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   ttl,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCredentials(url string, clock *fakeClock) *Credentials {
	return NewCredentials(CredentialsConfig{
		TokenURL:     url,
		ClientID:     "id",
		ClientSecret: "secret",
		Now:          clock.Now,
	})
}

func TestCredentials_ReusesTokenWithinValidity(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenServer(t, 300, &exchanges)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	creds := newTestCredentials(srv.URL, clock)

	for i := 0; i < 5; i++ {
		tok, err := creds.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
		clock.Advance(30 * time.Second)
	}
	assert.Equal(t, int32(1), exchanges.Load())
}

func TestCredentials_RefreshesInsideSkew(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenServer(t, 300, &exchanges)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	creds := newTestCredentials(srv.URL, clock)

	_, err := creds.Token(context.Background())
	require.NoError(t, err)

	// 300s TTL minus 60s skew: stale from t+240s.
	clock.Advance(239 * time.Second)
	tok, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(time.Second)
	tok, err = creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), exchanges.Load())
}

func TestCredentials_ConcurrentCallersShareOneExchange(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenServer(t, 3600, &exchanges)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	creds := newTestCredentials(srv.URL, clock)

	var wg sync.WaitGroup
	tokens := make([]string, 32)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := creds.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), exchanges.Load())
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

func TestCredentials_FailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "invalid_client", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "good", "expires_in": 300})
	}))
	defer srv.Close()
	creds := newTestCredentials(srv.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	_, err := creds.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)

	tok, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", tok)
}

func TestCredentials_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"access_token":`)
	}))
	defer srv.Close()
	creds := newTestCredentials(srv.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	_, err := creds.Token(context.Background())
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{ err error }

func (f failingToken) Token(context.Context) (string, error) { return "", f.err }

func TestClient_Properties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/things/thing-1/properties", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		io.WriteString(w, `[{"id":"w","name":"waterDetected","last_value":true},{"id":"d","name":"distanceCM","last_value":12.5}]`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, ThingID: "thing-1"}, staticToken("abc"))
	props, err := c.Properties(context.Background())
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "w", props[0].ID)
	assert.Equal(t, true, props[0].LastValue)
	assert.Equal(t, 12.5, props[1].LastValue)
}

func TestClient_PropertiesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, ThingID: "thing-1"}, staticToken("abc"))
	_, err := c.Properties(context.Background())
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadGateway, upErr.StatusCode)
	assert.Equal(t, "read properties", upErr.Op)
}

func TestClient_TokenFailurePropagates(t *testing.T) {
	c := NewClient(Config{APIURL: "http://unused", ThingID: "t"}, failingToken{err: &AuthError{StatusCode: 401}})
	_, err := c.Properties(context.Background())
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestClient_UnauthorizedInvalidatesCache(t *testing.T) {
	var exchanges atomic.Int32
	tokens := tokenServer(t, 3600, &exchanges)
	creds := newTestCredentials(tokens.URL, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `[]`)
	}))
	defer api.Close()

	c := NewClient(Config{APIURL: api.URL, ThingID: "t"}, creds)
	_, err := c.Properties(context.Background())
	require.Error(t, err)

	_, err = c.Properties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), exchanges.Load())
}

func TestClient_Publish(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v2/things/thing-1/properties/pump-id/publish", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, ThingID: "thing-1"}, staticToken("abc"))
	require.NoError(t, c.Publish(context.Background(), "pump-id", true))
	assert.Equal(t, map[string]any{"value": true}, got)
}

func TestClient_PublishFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, ThingID: "thing-1"}, staticToken("abc"))
	err := c.Publish(context.Background(), "pump-id", false)
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "publish property", upErr.Op)
}
