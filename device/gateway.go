package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayClient talks to a terminal bridge that exposes the device over HTTP
// at http://host:port.
type GatewayClient struct {
	http   *http.Client
	scheme string
}

func NewGatewayClient(httpClient *http.Client) *GatewayClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GatewayClient{http: httpClient, scheme: "http"}
}

type gatewaySession struct {
	http    *http.Client
	baseURL string
	id      string
	addr    string
}

type openSessionResponse struct {
	SessionID string `json:"session_id"`
}

type attendanceResponse struct {
	Attendance []RawEvent `json:"attendance"`
}

type usersResponse struct {
	Users []UserRecord `json:"users"`
}

func (c *GatewayClient) Connect(ctx context.Context, host string, port int, timeout time.Duration) (Session, error) {
	addr := address(host, port)
	hc := *c.http
	if timeout > 0 {
		hc.Timeout = timeout
	}
	s := &gatewaySession{
		http:    &hc,
		baseURL: c.scheme + "://" + addr,
		addr:    addr,
	}

	var resp openSessionResponse
	if err := s.do(ctx, http.MethodPost, "/session", &resp); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if strings.TrimSpace(resp.SessionID) == "" {
		return nil, fmt.Errorf("%w: connect %s: gateway returned no session id", ErrUnreachable, addr)
	}
	s.id = resp.SessionID
	return s, nil
}

func (s *gatewaySession) path(suffix string) string {
	return "/session/" + url.PathEscape(s.id) + suffix
}

func (s *gatewaySession) Disable(ctx context.Context) error {
	return s.do(ctx, http.MethodPost, s.path("/disable"), nil)
}

func (s *gatewaySession) Enable(ctx context.Context) error {
	return s.do(ctx, http.MethodPost, s.path("/enable"), nil)
}

func (s *gatewaySession) FetchAttendance(ctx context.Context) ([]RawEvent, error) {
	var resp attendanceResponse
	if err := s.do(ctx, http.MethodGet, s.path("/attendance"), &resp); err != nil {
		return nil, err
	}
	return resp.Attendance, nil
}

func (s *gatewaySession) FetchUsers(ctx context.Context) ([]UserRecord, error) {
	var resp usersResponse
	if err := s.do(ctx, http.MethodGet, s.path("/users"), &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (s *gatewaySession) Close(ctx context.Context) error {
	return s.do(ctx, http.MethodDelete, s.path(""), nil)
}

// do sends a request and decodes a JSON body into out when out is not nil.
// Transport failures wrap ErrUnreachable; non-2xx answers do not.
func (s *gatewaySession) do(ctx context.Context, method string, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, s.addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrUnreachable, s.addr, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("device gateway %s %s error %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	// Keep numbers verbatim; the normalizer decides how to coerce them.
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
