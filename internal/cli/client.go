package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"LUCID/go-backend/internal/models"
)

// backend talks to a running monitor's REST API.
type backend struct {
	base  string
	token string
	http  *http.Client
}

func newBackend(base, token string) *backend {
	return &backend{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *backend) get(path string, out interface{}) error {
	return b.do(http.MethodGet, path, "", nil, out)
}

func (b *backend) postJSON(path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(data))
	}
	return b.do(http.MethodPost, path, "application/json", body, out)
}

func (b *backend) do(method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequest(method, b.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// wsURL maps the API base onto its websocket endpoint.
func (b *backend) wsURL(clientID string) (string, error) {
	u, err := url.Parse(b.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if clientID != "" {
		u.RawQuery = url.Values{"clientId": {clientID}}.Encode()
	}
	return u.String(), nil
}
