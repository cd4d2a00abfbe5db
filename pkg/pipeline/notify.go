package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
)

// Notification is a downstream POST issued after a result is persisted.
type Notification struct {
	URL     string
	Payload interface{}
	Headers map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// HTTPNotifier delivers notifications with bounded retry.
type HTTPNotifier struct {
	client *http.Client
	policy httpclient.Policy
}

func NewHTTPNotifier(client *http.Client, policy httpclient.Policy) *HTTPNotifier {
	return &HTTPNotifier{client: client, policy: policy}
}

func (n *HTTPNotifier) Notify(ctx context.Context, note Notification) error {
	if note.URL == "" {
		return errors.New("notification url not configured")
	}
	_, err := httpclient.PostWithRetry(ctx, n.client, note.URL, note.Payload, note.Headers, n.policy)
	return err
}
