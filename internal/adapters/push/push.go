// Package push delivers directory messages to a peer's callback URL over HTTP.
package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const contentType = "text/plain;charset=UTF-8"

type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

// Push POSTs f to url. 2xx is Delivered, 404 is NotFound, anything else
// (including a network error) is Failed.
func (t *HTTPTransport) Push(ctx context.Context, url domain.PeerURL, f core.Frame) (core.DeliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, string(url), bytes.NewReader(f))
	if err != nil {
		return core.Failed, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return core.Failed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.NotFound, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return core.Delivered, nil
	}
	return core.Failed, fmt.Errorf("push to %s: unexpected status %d", url, resp.StatusCode)
}
