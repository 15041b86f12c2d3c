package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/heritage-console/internal/domain"
	"github.com/spec-kit/heritage-console/internal/session"
)

// LoginRequest is the payload for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the payload for POST /api/auth/register.
type RegisterRequest struct {
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	Country           string `json:"country,omitempty"`
}

// SocialLoginRequest is the payload for POST /api/auth/social-login.
type SocialLoginRequest struct {
	Provider  string `json:"provider"`
	IDToken   string `json:"idToken"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// ResetPasswordRequest is the payload for POST /api/auth/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// TokenResponse is returned by every token-issuing endpoint.
type TokenResponse struct {
	Token string `json:"token"`
}

// Client is the heritage platform API client.
type Client struct {
	baseURL string
	public  *http.Client
	authed  *http.Client
	logger  *zap.Logger
}

// New creates a client. Until Authorize is called, protected calls go out without a token.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	public := &http.Client{Timeout: timeout}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		public:  public,
		authed:  public,
		logger:  logger.Named("apiclient"),
	}
}

// Authorize routes protected calls through a Transport fed by tokens and renewer.
func (c *Client) Authorize(tokens TokenSource, renewer Renewer) {
	c.authed = &http.Client{
		Timeout:   c.public.Timeout,
		Transport: NewTransport(c.public.Transport, tokens, renewer, c.logger),
	}
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	var out TokenResponse
	if err := c.doRequest(ctx, c.public, http.MethodPost, "/api/auth/login", req, &out, nil); err != nil {
		return "", fmt.Errorf("client.Login: %w", err)
	}
	return out.tokenOrErr()
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	var out TokenResponse
	if err := c.doRequest(ctx, c.public, http.MethodPost, "/api/auth/register", req, &out, nil); err != nil {
		return "", fmt.Errorf("client.Register: %w", err)
	}
	return out.tokenOrErr()
}

// SocialLogin exchanges a provider identity for a token.
func (c *Client) SocialLogin(ctx context.Context, req SocialLoginRequest) (string, error) {
	var out TokenResponse
	if err := c.doRequest(ctx, c.public, http.MethodPost, "/api/auth/social-login", req, &out, nil); err != nil {
		return "", fmt.Errorf("client.SocialLogin: %w", err)
	}
	return out.tokenOrErr()
}

// Refresh renews token. The renewal endpoint is skipped by the Transport, so
// the current token is attached here explicitly.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	var out TokenResponse
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	if err := c.doRequest(ctx, c.public, http.MethodPost, "/api/auth/refresh", struct{}{}, &out, header); err != nil {
		return "", fmt.Errorf("client.Refresh: %w", err)
	}
	return out.tokenOrErr()
}

// ForgotPassword asks the backend to mail a reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	params := url.Values{}
	params.Set("email", email)
	if err := c.doRequest(ctx, c.public, http.MethodPost, "/api/auth/forgot-password?"+params.Encode(), nil, nil, nil); err != nil {
		return fmt.Errorf("client.ForgotPassword: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token.
func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := c.doRequest(ctx, c.public, http.MethodPost, "/api/auth/reset-password", req, nil, nil); err != nil {
		return fmt.Errorf("client.ResetPassword: %w", err)
	}
	return nil
}

// UserByEmail fetches the authoritative profile. Unknown payload shapes are rejected.
func (c *Client) UserByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, c.authed, http.MethodGet, "/api/users/email/"+url.PathEscape(email), nil, &raw, nil); err != nil {
		return nil, fmt.Errorf("client.UserByEmail: %w", err)
	}
	profile, err := session.DecodeProfile(raw)
	if err != nil {
		return nil, fmt.Errorf("client.UserByEmail: %w", err)
	}
	return profile, nil
}

func (r TokenResponse) tokenOrErr() (string, error) {
	if r.Token == "" {
		return "", &HTTPError{StatusCode: http.StatusBadGateway, Message: "the server returned no token"}
	}
	return r.Token, nil
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, path string, body any, out any, header http.Header) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
			return err
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: GenericMessage}
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
		Msg   string          `json:"message"`
	}
	if json.Unmarshal(respBody, &envelope) == nil {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if len(envelope.Error) > 0 && json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Code: nested.Code, Message: nested.Message}
		}
		var flat string
		if len(envelope.Error) > 0 && json.Unmarshal(envelope.Error, &flat) == nil && flat != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: flat}
		}
		if envelope.Msg != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: envelope.Msg}
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: GenericMessage}
}
