package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransportConfig(baseURL string) *otcs.Config {
	config := otcs.DefaultConfig()
	config.Server.BaseURL = baseURL
	config.Server.Username = "admin"
	config.Server.Password = "secret"
	config.Transport.MaxRetries = 2
	config.Transport.RetryInitialInterval = time.Millisecond
	config.Transport.RetryMaxInterval = 5 * time.Millisecond
	return config
}

func writeAuth(w http.ResponseWriter, r *http.Request, ticket string) {
	_ = r.ParseForm()
	if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid username or password"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"ticket": ticket})
}

func TestHTTPTransport_AuthenticatesAndSendsForm(t *testing.T) {
	var gotForm url.Values
	var gotTicket, gotRequestID, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth":
			writeAuth(w, r, "T1")
		case "/api/v2/nodes/1/categories/10":
			gotTicket = r.Header.Get("OTCSTicket")
			gotRequestID = r.Header.Get("X-Request-Id")
			gotContentType = r.Header.Get("Content-Type")
			body, _ := io.ReadAll(r.Body)
			gotForm, _ = url.ParseQuery(string(body))
			_, _ = w.Write([]byte(`{"results":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	transport := NewHTTPTransport(testTransportConfig(server.URL+"/api/"), server.Client())
	form := otcs.FlatPairs{{Key: "10_2", Value: "a"}, {Key: "10_2", Value: "b"}, {Key: "10_3", Value: "x y"}}

	body, err := transport.Do(context.Background(), &otcs.Request{Method: http.MethodPut, Path: "/v2/nodes/1/categories/10", Form: form})

	require.NoError(t, err)
	assert.JSONEq(t, `{"results":{}}`, string(body))
	assert.Equal(t, "T1", gotTicket)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, []string{"a", "b"}, gotForm["10_2"])
	assert.Equal(t, "x y", gotForm.Get("10_3"))
}

func TestHTTPTransport_ReauthenticatesOnce(t *testing.T) {
	var authCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth":
			n := atomic.AddInt32(&authCalls, 1)
			if n == 1 {
				writeAuth(w, r, "stale")
				return
			}
			writeAuth(w, r, "fresh")
		default:
			if r.Header.Get("OTCSTicket") != "fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	transport := NewHTTPTransport(testTransportConfig(server.URL), server.Client())

	_, err := transport.Do(context.Background(), &otcs.Request{Method: http.MethodGet, Path: "/v2/nodes/1"})

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls))
}

func TestHTTPTransport_StaticTicketSkipsAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth" {
			t.Errorf("unexpected authentication request")
		}
		if r.Header.Get("OTCSTicket") != "static" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	config := testTransportConfig(server.URL)
	config.Server.Username = ""
	config.Server.Ticket = "static"
	transport := NewHTTPTransport(config, server.Client())

	_, err := transport.Do(context.Background(), &otcs.Request{Method: http.MethodGet, Path: "/v2/nodes/1"})
	require.NoError(t, err)
}

func TestHTTPTransport_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth" {
			writeAuth(w, r, "T")
			return
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(testTransportConfig(server.URL), server.Client())

	body, err := transport.Do(context.Background(), &otcs.Request{Method: http.MethodGet, Path: "/v2/nodes/1"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPTransport_WriteRetries(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		status    int
		wantCalls int32
	}{
		{"put after internal error is not repeated", http.MethodPut, http.StatusInternalServerError, 1},
		{"post after bad gateway is not repeated", http.MethodPost, http.StatusBadGateway, 1},
		{"put after unavailable is retried", http.MethodPut, http.StatusServiceUnavailable, 3},
		{"post after throttling is retried", http.MethodPost, http.StatusTooManyRequests, 3},
		{"get after internal error is retried", http.MethodGet, http.StatusInternalServerError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/v1/auth" {
					writeAuth(w, r, "T")
					return
				}
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			transport := NewHTTPTransport(testTransportConfig(server.URL), server.Client())

			_, err := transport.Do(context.Background(), &otcs.Request{Method: tt.method, Path: "/v2/nodes/1/categories/10"})

			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestHTTPTransport_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth" {
			writeAuth(w, r, "T")
			return
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Node 1 does not exist"}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(testTransportConfig(server.URL), server.Client())

	_, err := transport.Do(context.Background(), &otcs.Request{Method: http.MethodGet, Path: "/v2/nodes/1"})

	require.Error(t, err)
	assert.True(t, otcs.IsNotFound(err))
	assert.Contains(t, err.Error(), "Node 1 does not exist")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPTransport_AuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAuth(w, r, "T")
	}))
	defer server.Close()

	config := testTransportConfig(server.URL)
	config.Server.Password = "wrong"
	transport := NewHTTPTransport(config, server.Client())

	_, err := transport.Do(context.Background(), &otcs.Request{Method: http.MethodGet, Path: "/v2/nodes/1"})

	require.Error(t, err)
	assert.True(t, otcs.IsUnauthorized(err))
	assert.Equal(t, otcs.ErrCodeAuthFailed, otcs.ErrorCode(err))
}

func TestHTTPTransport_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth" {
			writeAuth(w, r, "T")
			return
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	config := testTransportConfig(server.URL)
	config.Transport.MaxRetries = 0
	config.Transport.BreakerThreshold = 2
	config.Transport.BreakerOpenDuration = time.Minute
	transport := NewHTTPTransport(config, server.Client())
	req := &otcs.Request{Method: http.MethodGet, Path: "/v2/nodes/1"}

	for range 2 {
		_, err := transport.Do(context.Background(), req)
		require.Error(t, err)
	}
	_, err := transport.Do(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, otcs.ErrCodeCircuitOpen, otcs.ErrorCode(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPTransport_JSONBodyAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth" {
			writeAuth(w, r, "T")
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "7", r.URL.Query().Get("id"))
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "value", payload["key"])
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(testTransportConfig(server.URL), server.Client())

	_, err := transport.Do(context.Background(), &otcs.Request{
		Method: http.MethodPost,
		Path:   "/v2/things",
		Query:  url.Values{"id": {"7"}},
		Body:   map[string]string{"key": "value"},
	})
	require.NoError(t, err)
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute, 30*time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.False(t, cb.IsOpen())

	now = now.Add(2 * time.Minute)
	cb.RecordFailure()
	assert.False(t, cb.IsOpen(), "failures outside the window are forgotten")

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	now = now.Add(31 * time.Second)
	assert.False(t, cb.IsOpen(), "breaker closes after the open duration")

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen(), "success resets the failure history")

	var nilBreaker *CircuitBreaker
	nilBreaker.RecordFailure()
	assert.False(t, nilBreaker.IsOpen())
}
