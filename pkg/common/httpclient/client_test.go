package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostWithRetrySucceedsAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := PostWithRetry(context.Background(), New(time.Second), srv.URL,
		map[string]string{"patientId": "p1"}, map[string]string{"X-Trace": "abc"},
		Policy{Attempts: 3, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	var body map[string]bool
	require.NoError(t, resp.Decode(&body))
	assert.True(t, body["ok"])
}

func TestPostWithRetryReturnsLastError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := PostWithRetry(context.Background(), New(time.Second), srv.URL, map[string]string{}, nil,
		Policy{Attempts: 3, Interval: time.Millisecond})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostWithRetryRetriesEveryNon2xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := PostWithRetry(context.Background(), New(time.Second), srv.URL, map[string]string{}, nil,
		Policy{Attempts: 2, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetryDoesNotSleepAfterLastAttempt(t *testing.T) {
	start := time.Now()
	err := Retry(context.Background(), Policy{Attempts: 1, Interval: time.Hour}, func(int) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPostJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), New(time.Second), srv.URL, map[string]string{"a": "b"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, string(resp.Body))
}

func TestWithClientCredentialsPassthrough(t *testing.T) {
	base := New(time.Second)
	assert.Same(t, base, WithClientCredentials(context.Background(), base, CredentialsConfig{}))
}
