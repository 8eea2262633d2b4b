package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// postTimeout bounds the hook's call back into the bridge. The hook runs
// inside the agent's stop path and must never hang it.
var postTimeout = 5 * time.Second

// ResponsePayload is the body of the hook's POST to the bridge.
type ResponsePayload struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

// PostResponse delivers an extracted reply to the bridge's /response
// endpoint.
func PostResponse(ctx context.Context, baseURL, session, text string) error {
	body, err := json.Marshal(&ResponsePayload{Session: session, Text: text})
	if err != nil {
		return errors.Wrap(err, "failed to marshal response payload")
	}

	url := strings.TrimRight(baseURL, "/") + "/response"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct request to %s", url)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: postTimeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post response to %s", url)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read bridge response from %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("bridge rejected response, status code: %d, response body: %s", resp.StatusCode, b)
	}
	return nil
}
