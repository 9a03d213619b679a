package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API response structures
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	CompanyID string   `json:"companyId"`
	TenantID  string   `json:"tenantId"`
	Roles     []string `json:"roles"`
	Company   *Ref     `json:"company,omitempty"`
	Tenant    *Ref     `json:"tenant,omitempty"`
}

type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	User         User   `json:"user"`
}

type Verification struct {
	Valid       bool     `json:"valid"`
	User        User     `json:"user"`
	Permissions []string `json:"permissions"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
	DB      string `json:"db"`
	Cache   string `json:"cache"`
}

// APIError is a non-2xx response rendered in the failure envelope.
type APIError struct {
	Status  int
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (%d)", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// Client talks to the auth API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	url := c.BaseURL + path
	logVerbose("Making %s request to %s", method, url)

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	logVerbose("Response status: %s", resp.Status)
	return resp, nil
}

// call performs the request and decodes the response into target. When unwrap is set the
// payload is read from the success envelope's data field.
func (c *Client) call(ctx context.Context, method, path string, body, target any, unwrap bool) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
			env.Error.Status = resp.StatusCode
			return env.Error
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if target == nil || len(raw) == 0 {
		return nil
	}
	if unwrap {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
		raw = env.Data
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, identifier, password string, remember bool) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"identifier":  identifier,
		"password":    password,
		"remember_me": remember,
	}, &s, true)
	return s, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": refreshToken}, &s, true)
	return s, err
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": refreshToken}, nil, false)
}

func (c *Client) LogoutAll(ctx context.Context) (int64, error) {
	var out struct {
		Revoked int64 `json:"revoked"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/logout-all", nil, &out, true)
	return out.Revoked, err
}

func (c *Client) Verify(ctx context.Context) (Verification, error) {
	var v Verification
	err := c.call(ctx, http.MethodGet, "/api/v1/auth/verify", nil, &v, false)
	return v, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return h, nil
}
