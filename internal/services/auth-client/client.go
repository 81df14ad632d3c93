package auth_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/NordCoder/Storefront/internal/domain/session"
	"go.uber.org/zap"
)

var ErrNoAccessInResponse = errors.New("auth response has no access token")

type Config struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	LogoutPath  string
}

// StatusError is a non-2xx answer from an auth endpoint.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code) }

// Client calls the login, token refresh and logout endpoints. Its
// *http.Client must not be the guarded one.
type Client struct {
	c   *http.Client
	cfg Config
	log *zap.Logger
}

var (
	_ session.Renewer       = (*Client)(nil)
	_ session.Authenticator = (*Client)(nil)
)

func New(c *http.Client, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{c: c, cfg: cfg, log: log.With(zap.String("component", "auth.client"))}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type pairResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (cl *Client) Renew(ctx context.Context, refresh string) (session.Credentials, error) {
	var out pairResponse
	if err := cl.post(ctx, "renew", cl.cfg.RefreshPath, refreshRequest{Refresh: refresh}, &out); err != nil {
		return session.Credentials{}, err
	}
	if out.Access == "" {
		return session.Credentials{}, ErrNoAccessInResponse
	}
	return session.Credentials{Access: out.Access, Refresh: out.Refresh}, nil
}

func (cl *Client) Login(ctx context.Context, email, password string) (session.Credentials, error) {
	var out pairResponse
	if err := cl.post(ctx, "login", cl.cfg.LoginPath, loginRequest{Email: email, Password: password}, &out); err != nil {
		return session.Credentials{}, err
	}
	if out.Access == "" {
		return session.Credentials{}, ErrNoAccessInResponse
	}
	return session.Credentials{Access: out.Access, Refresh: out.Refresh}, nil
}

// Logout revokes the refresh credential server side. A 401 means it is
// already unusable, which is what logout wants.
func (cl *Client) Logout(ctx context.Context, refresh string) error {
	err := cl.post(ctx, "logout", cl.cfg.LogoutPath, refreshRequest{Refresh: refresh}, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		return nil
	}
	return err
}

func (cl *Client) post(ctx context.Context, op, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := cl.c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		cl.log.Debug("auth endpoint refused", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
