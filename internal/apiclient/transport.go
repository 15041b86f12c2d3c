package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// TokenSource yields the bearer token to attach, or "".
type TokenSource interface {
	CurrentToken() string
}

// Renewer obtains a fresh token, joining any renewal already in flight.
type Renewer interface {
	Refresh(ctx context.Context) (string, error)
}

// AuthPathPrefix marks endpoints that never carry the session token, wherever
// it appears in the path.
const AuthPathPrefix = "/api/auth/"

// Transport attaches the session token to outgoing requests and recovers
// from a 401 with exactly one renew-and-retry.
type Transport struct {
	Base      http.RoundTripper
	Tokens    TokenSource
	Renewer   Renewer
	SkipPaths []string
	Logger    *zap.Logger
}

// NewTransport builds a Transport that skips any path containing AuthPathPrefix,
// so a base URL mounted under a gateway prefix is covered too.
func NewTransport(base http.RoundTripper, tokens TokenSource, renewer Renewer, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		Base:      base,
		Tokens:    tokens,
		Renewer:   renewer,
		SkipPaths: []string{AuthPathPrefix},
		Logger:    logger.Named("transport"),
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) skips(req *http.Request) bool {
	for _, p := range t.SkipPaths {
		if strings.Contains(req.URL.Path, p) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.skips(req) || t.Tokens == nil {
		return t.base().RoundTrip(req)
	}

	sent := t.Tokens.CurrentToken()
	resp, err := t.base().RoundTrip(withBearer(req, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || t.Renewer == nil || sent == "" {
		return resp, err
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}
	drain(resp)

	fresh := t.Tokens.CurrentToken()
	if fresh == "" || fresh == sent {
		fresh, err = t.Renewer.Refresh(req.Context())
		if err != nil {
			t.Logger.Info("401 recovery failed", zap.String("path", req.URL.Path), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}

	t.Logger.Debug("retrying with renewed token", zap.String("path", req.URL.Path))
	return t.base().RoundTrip(withBearer(retry, fresh))
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token == "" {
		out.Header.Del("Authorization")
		return out
	}
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, bool) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	out.Body = body
	return out, true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
