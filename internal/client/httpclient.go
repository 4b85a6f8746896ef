package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/procurio/be-po-approvals/internal/apperrors"
)

// httpClient is a small JSON-over-HTTP client shared by the service clients.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// get performs a GET and decodes the JSON response into out.
func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to build request")
	}
	return c.do(req, out)
}

// post performs a POST with a JSON body, decoding the response into out when
// out is non-nil.
func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeIntegration, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.Newf(apperrors.CodeIntegration,
			"unexpected status %d from %s: %s", resp.StatusCode, req.URL.Path, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeIntegration,
			fmt.Sprintf("failed to decode response from %s", req.URL.Path))
	}
	return nil
}
