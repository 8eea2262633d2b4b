package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/crewmux/bridge"
	"github.com/hrygo/crewmux/chat"
	"github.com/hrygo/crewmux/internal/profile"
	"github.com/hrygo/crewmux/metrics"
)

type fakeBridge struct {
	mu        sync.Mutex
	updates   []*chat.InboundEvent
	responses [][2]string
	notices   []string

	respErr   error
	notifySum int
}

func (f *fakeBridge) HandleUpdate(_ context.Context, ev *chat.InboundEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, ev)
}

func (f *fakeBridge) HandleResponse(_ context.Context, worker, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, [2]string{worker, text})
	return f.respErr
}

func (f *fakeBridge) Notify(_ context.Context, text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	return f.notifySum
}

func (f *fakeBridge) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *fakeBridge) {
	t.Helper()
	p := &profile.Profile{
		Mode:           "dev",
		Addr:           "127.0.0.1",
		Port:           28280,
		WebhookSecret:  secret,
		MetricsEnabled: true,
	}
	fb := &fakeBridge{}
	s := NewServer(p, fb, metrics.NewExporter(metrics.DefaultConfig()))
	ts := httptest.NewServer(s.echoServer)
	t.Cleanup(ts.Close)
	return ts, fb
}

func postJSON(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const sampleUpdate = `{
	"update_id": 7001,
	"message": {
		"message_id": 42,
		"from": {"id": 9, "username": "boss"},
		"chat": {"id": 4242, "type": "private"},
		"date": 1700000000,
		"text": "hello crew"
	}
}`

func TestHealthIdentifiesService(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "crewmux")
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	ts, fb := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/", sampleUpdate, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return fb.updateCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	ev := fb.updates[0]
	assert.Equal(t, int64(4242), ev.ChatID)
	assert.Equal(t, 42, ev.MessageID)
	assert.Equal(t, "hello crew", ev.Text)
}

func TestWebhookSecretGate(t *testing.T) {
	ts, fb := newTestServer(t, "s3cret")

	resp := postJSON(t, ts.URL+"/", sampleUpdate, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/", sampleUpdate, map[string]string{
		webhookSecretHeader: "wrong",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, fb.updateCount())

	resp = postJSON(t, ts.URL+"/", sampleUpdate, map[string]string{
		webhookSecretHeader: "s3cret",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool {
		return fb.updateCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebhookAcksNonRoutableUpdate(t *testing.T) {
	ts, fb := newTestServer(t, "")

	// No message inside: parsed to a nil event and dropped before dispatch.
	resp := postJSON(t, ts.URL+"/", `{"update_id": 7002}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, fb.updateCount())
}

func TestWebhookAcksMalformedPayload(t *testing.T) {
	ts, fb := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/", `{"update_id": `, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, fb.updateCount())
}

func TestResponseStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		bridgeErr error
		want      int
	}{
		{"accepted", nil, http.StatusOK},
		{"empty fields", bridge.ErrEmptyResponse, http.StatusBadRequest},
		{"no chat recorded", bridge.ErrNoChatID, http.StatusNotFound},
		{"delivery failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, fb := newTestServer(t, "")
			fb.respErr = tt.bridgeErr

			resp := postJSON(t, ts.URL+"/response", `{"session":"alice","text":"done"}`, nil)
			assert.Equal(t, tt.want, resp.StatusCode)

			fb.mu.Lock()
			defer fb.mu.Unlock()
			require.Len(t, fb.responses, 1)
			assert.Equal(t, [2]string{"alice", "done"}, fb.responses[0])
		})
	}
}

func TestResponseWrappedSentinelStillMaps(t *testing.T) {
	ts, fb := newTestServer(t, "")
	fb.respErr = errors.Wrap(bridge.ErrNoChatID, "worker alice")

	resp := postJSON(t, ts.URL+"/response", `{"session":"alice","text":"done"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotifyFansOut(t *testing.T) {
	ts, fb := newTestServer(t, "")
	fb.notifySum = 3

	resp := postJSON(t, ts.URL+"/notify", `{"text":"tunnel down"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sent":3}`, string(body))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.notices, 1)
	assert.Equal(t, "tunnel down", fb.notices[0])
}

func TestNotifyRequiresText(t *testing.T) {
	ts, fb := newTestServer(t, "")

	resp := postJSON(t, ts.URL+"/notify", `{"text":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, fb.notices)
}

func TestMetricsRouteToggle(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	p := &profile.Profile{Mode: "dev", Addr: "127.0.0.1", Port: 28280, MetricsEnabled: false}
	s := NewServer(p, &fakeBridge{}, metrics.NewExporter(metrics.DefaultConfig()))
	off := httptest.NewServer(s.echoServer)
	defer off.Close()

	resp, err = http.Get(off.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
