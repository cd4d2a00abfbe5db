package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// New creates an HTTP client tuned for outbound service-to-service communication.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// CredentialsConfig describes an OAuth2 client-credentials grant for a downstream backend.
type CredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// WithClientCredentials wraps base so every request carries a bearer token.
// A config without a token URL returns base unchanged.
func WithClientCredentials(ctx context.Context, base *http.Client, cc CredentialsConfig) *http.Client {
	if cc.TokenURL == "" || cc.ClientID == "" {
		return base
	}
	cfg := clientcredentials.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		TokenURL:     cc.TokenURL,
		Scopes:       cc.Scopes,
	}
	authed := cfg.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	authed.Timeout = base.Timeout
	return authed
}

// Policy bounds a retried call: Attempts tries, Interval apart.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// DefaultPolicy is three attempts two seconds apart.
var DefaultPolicy = Policy{Attempts: 3, Interval: 2 * time.Second}

// Retry executes fn up to policy.Attempts times with a fixed pause between
// attempts. There is no pause after the final attempt.
func Retry(ctx context.Context, policy Policy, fn func(attempt int) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn(i + 1)
		if err == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(policy.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Response is a fully-read response body.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// PostJSON sends payload once. Non-2xx responses are returned as *StatusError.
func PostJSON(ctx context.Context, client *http.Client, url string, payload interface{}, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: snippet}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// PostWithRetry posts payload under policy, logging each failed attempt, and
// returns the last error when every attempt fails.
func PostWithRetry(ctx context.Context, client *http.Client, url string, payload interface{}, headers map[string]string, policy Policy) (*Response, error) {
	var resp *Response
	err := Retry(ctx, policy, func(attempt int) error {
		r, err := PostJSON(ctx, client, url, payload, headers)
		if err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"url":     url,
				"attempt": attempt,
			}).Warn("POST attempt failed")
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Get fetches url and returns the body; non-2xx is a *StatusError.
func Get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return data, nil
}
