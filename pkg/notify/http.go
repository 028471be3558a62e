package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/resumable-http/rufh/pkg/core"
)

// HTTPSink POSTs the JSON-encoded event to Endpoint, retrying up to
// MaxRetries times with a fixed Backoff between attempts. Grounded on the
// teacher's pkg/hooks/http.HttpHook, minus the ForwardHeaders mechanism
// (there is no originating *http.Request available by the time a
// HookEvent fires — the event is the size of the whole interface).
type HTTPSink struct {
	Endpoint   string
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration

	Client *http.Client
}

func (s *HTTPSink) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (s *HTTPSink) Notify(ctx context.Context, event core.HookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	retries := s.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("notify: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Rufh-Event", string(event.Kind))

		resp, err := s.client().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("notify: endpoint returned %s", resp.Status)
	}

	return lastErr
}
