package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiError carries the HTTP status of a failed provider call so wrapHTTP can
// classify it as transient or rejected.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.status, e.body)
}

// doJSON performs one JSON request/response round-trip. A non-2xx response
// becomes an *apiError; transport failures pass through unchanged.
func doJSON(ctx context.Context, hc *http.Client, method, url string, headers map[string]string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request payload: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(body)}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func jsonDecode(r io.Reader, out interface{}) error {
	return json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(out)
}

// wrapHTTP maps an HTTP-level failure into the adapter error taxonomy:
// 5xx and 429 are retryable, other statuses are permanent, transport
// errors are retryable.
func wrapHTTP(providerName, op string, err error) error {
	if ae, ok := err.(*apiError); ok {
		if ae.status >= 500 || ae.status == 429 {
			return Transient(providerName, op, err)
		}
		return Rejected(providerName, op, err)
	}
	return Transient(providerName, op, err)
}
