package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	apperrors "funding_arb/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedBody records whether a response body was closed
type trackedBody struct {
	*bytes.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

// scriptedTransport serves one canned status per attempt and captures every
// request body it sees.
type scriptedTransport struct {
	mu       sync.Mutex
	statuses []int
	bodies   []*trackedBody
	requests []string
}

func (t *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reqBody []byte
	if req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	t.requests = append(t.requests, string(reqBody))

	status := t.statuses[len(t.bodies)]
	body := &trackedBody{Reader: bytes.NewReader([]byte(`{"ok":true}`))}
	t.bodies = append(t.bodies, body)

	return &http.Response{
		StatusCode: status,
		Body:       body,
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func newScriptedClient(statuses ...int) (*Client, *scriptedTransport) {
	transport := &scriptedTransport{statuses: statuses}
	client := NewClient("http://venue.test", 5*time.Second, nil)
	client.client.Transport = transport
	return client, transport
}

func TestDoClosesRetriedResponses(t *testing.T) {
	client, transport := newScriptedClient(http.StatusInternalServerError, http.StatusOK)

	body, err := client.Get(context.Background(), "/info", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	require.Len(t, transport.bodies, 2)
	assert.True(t, transport.bodies[0].closed, "retried 5xx response must release its connection")
	assert.True(t, transport.bodies[1].closed)
}

func TestDoClosesEveryRateLimitedAttempt(t *testing.T) {
	client, transport := newScriptedClient(
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK)

	_, err := client.Get(context.Background(), "/info", nil)
	require.NoError(t, err)

	require.Len(t, transport.bodies, 3)
	for i, b := range transport.bodies {
		assert.True(t, b.closed, "attempt %d leaked its body", i)
	}
}

func TestDoRewindsPostBodyOnRetry(t *testing.T) {
	client, transport := newScriptedClient(http.StatusInternalServerError, http.StatusOK)

	_, err := client.Post(context.Background(), "/orders", map[string]string{"type": "meta"})
	require.NoError(t, err)

	require.Len(t, transport.requests, 2)
	assert.Equal(t, `{"type":"meta"}`, transport.requests[0])
	assert.Equal(t, `{"type":"meta"}`, transport.requests[1], "retry must carry the full body")
}

func TestDoExhaustedRetriesReturnAPIError(t *testing.T) {
	client, transport := newScriptedClient(
		http.StatusServiceUnavailable, http.StatusServiceUnavailable,
		http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	_, err := client.Get(context.Background(), "/info", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.True(t, errors.Is(err, apperrors.ErrVenueMaintenance))

	// Initial attempt plus three retries, no attempt leaked
	require.Len(t, transport.bodies, 4)
	for i, b := range transport.bodies {
		assert.True(t, b.closed, "attempt %d leaked its body", i)
	}
}
