// Package upstream is the gateway's typed HTTP client to the backend
// fleet's session API: listing sessions, logging a session out, and
// forwarding arbitrary pairing requests. It also owns the accessor logic
// for the backend's dynamic payload shapes (session.id vs
// session.sessionId, pair response sessionId vs cleanNumber).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// UserAgent is sent on every outbound call to the backend fleet.
const UserAgent = "session-gateway/1.0"

// pairPathPattern matches an inbound pairing path exactly, e.g. "/pair/491234",
// but not a path carrying any further segment.
var pairPathPattern = regexp.MustCompile(`^/pair/[^/]+$`)

// Client issues the three calls the gateway makes against a backend:
// listing sessions, logging a session out, and forwarding a pairing
// request. It carries no backend-specific state; every call takes the
// target backend's base URL explicitly.
type Client struct {
	httpClient *http.Client
}

// New creates a Client whose calls are bounded by timeout unless the
// caller's context carries a tighter deadline.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// sessionsPayload is the shape of a backend's GET /sessions response.
type sessionsPayload struct {
	Sessions []rawSession `json:"sessions"`
}

// rawSession accepts either an "id" or "sessionId" field, per the dynamic
// shape backends may send; any other fields are preserved but
// ignored.
type rawSession map[string]interface{}

func (s rawSession) id() (string, bool) {
	if v, ok := s["id"]; ok {
		if str, ok := v.(string); ok && str != "" {
			return str, true
		}
	}
	if v, ok := s["sessionId"]; ok {
		if str, ok := v.(string); ok && str != "" {
			return str, true
		}
	}
	return "", false
}

// ListSessions calls GET <baseURL>/sessions and returns the normalized
// session id list plus how long the call took. A non-200 response is
// returned as a plain error alongside its status code; transport-level
// failures are returned as-is, leaving kind classification to the caller.
func (c *Client) ListSessions(ctx context.Context, baseURL string) (sessions []string, elapsed time.Duration, statusCode int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/sessions", nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed = time.Since(start)
	if err != nil {
		return nil, elapsed, 0, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, elapsed, resp.StatusCode, readErr
	}

	if resp.StatusCode != http.StatusOK {
		return nil, elapsed, resp.StatusCode, fmt.Errorf("sessions probe returned status %d", resp.StatusCode)
	}

	var payload sessionsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, elapsed, resp.StatusCode, fmt.Errorf("failed to parse sessions payload: %w", err)
	}

	out := make([]string, 0, len(payload.Sessions))
	for _, s := range payload.Sessions {
		if id, ok := s.id(); ok {
			out = append(out, id)
		}
	}
	return out, elapsed, resp.StatusCode, nil
}

// Logout calls POST <baseURL>/logout/<sessionID> with an empty JSON body and
// the gateway's proxy headers. It returns the raw status and body so the
// registry can distinguish a 404 (session unknown upstream, still cleaned
// up locally) from other non-2xx statuses (surfaced unchanged) from a
// transport failure (err != nil).
func (c *Client) Logout(ctx context.Context, baseURL, sessionID string, proxyHeaders http.Header) (statusCode int, body []byte, err error) {
	url := fmt.Sprintf("%s/logout/%s", strings.TrimSuffix(baseURL, "/"), sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return 0, nil, err
	}
	applyProxyHeaders(req, proxyHeaders, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// ForwardRequest carries everything Forward needs from an inbound request.
type ForwardRequest struct {
	Method     string
	Path       string // original inbound path, e.g. "/pair/491234"
	Headers    http.Header
	Body       []byte
	RemoteAddr string
}

// ForwardResponse is what a successful (transport-wise) forward produced.
// Upstream status codes, including 4xx/5xx, are carried here rather than as
// an error: only transport-level failures raise; upstream status codes pass through.
type ForwardResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Forward composes the target URL (applying the /pair/<n> trailing-slash
// rewrite when pairTrailingSlash is set and the path matches exactly),
// overlays the gateway's proxy headers, and issues the call.
func (c *Client) Forward(ctx context.Context, baseURL string, backendID string, req ForwardRequest, pairTrailingSlash bool) (*ForwardResponse, error) {
	targetPath := req.Path
	if pairTrailingSlash && pairPathPattern.MatchString(targetPath) {
		targetPath += "/"
	}
	targetURL := strings.TrimSuffix(baseURL, "/") + targetPath

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, targetURL, bodyReader)
	if err != nil {
		return nil, err
	}
	applyProxyHeaders(httpReq, req.Headers, backendID)
	if req.RemoteAddr != "" {
		httpReq.Header.Set("x-forwarded-for", req.RemoteAddr)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("content-type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &ForwardResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header.Clone(),
	}, nil
}

// applyProxyHeaders copies the inbound headers onto req and overlays the
// gateway's own identifying headers.
func applyProxyHeaders(req *http.Request, inbound http.Header, backendID string) {
	for k, values := range inbound {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if backendID != "" {
		req.Header.Set("x-proxy-server", backendID)
	}
	req.Header.Set("x-proxy-timestamp", time.Now().UTC().Format(time.RFC3339))
}

// PairSessionID extracts the session identifier a pair response carries,
// accepting either "sessionId" or "cleanNumber". ok is true only when the
// upstream body declared ok:true and carried one of those fields.
func PairSessionID(body []byte) (sessionID string, ok bool) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}
	if okVal, present := parsed["ok"]; !present || okVal != true {
		return "", false
	}
	if v, ok := parsed["sessionId"]; ok {
		if str, ok := v.(string); ok && str != "" {
			return str, true
		}
	}
	if v, ok := parsed["cleanNumber"]; ok {
		if str, ok := v.(string); ok && str != "" {
			return str, true
		}
	}
	return "", false
}
