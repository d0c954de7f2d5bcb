// Package vrchat implements core.DirectoryService against the VRChat web API.
package vrchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/modoterra/vrcguard/internal/buildinfo"
	"github.com/modoterra/vrcguard/pkg/core"
)

const DefaultBaseURL = "https://api.vrchat.cloud/api/1/"

// Two-factor methods accepted by VerifyTwoFactor.
const (
	MethodTOTP     = "totp"
	MethodOTP      = "otp"
	MethodEmailOTP = "emailotp"
)

var (
	// ErrTwoFactorRequired is matched by *TwoFactorError.
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
	// ErrUnauthorized means the session is missing or expired.
	ErrUnauthorized = errors.New("not authenticated")
	// ErrVerificationFailed means a two-factor code was rejected.
	ErrVerificationFailed = errors.New("two-factor code rejected")
)

// TwoFactorError lists the second factors the account accepts.
type TwoFactorError struct {
	Methods []string
}

func (e *TwoFactorError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrTwoFactorRequired, strings.Join(e.Methods, ", "))
}

func (e *TwoFactorError) Is(target error) bool {
	return target == ErrTwoFactorRequired
}

// PreferredMethod returns the method to prompt for: email when the account
// only offers email codes, the authenticator app otherwise.
func (e *TwoFactorError) PreferredMethod() string {
	for _, m := range e.Methods {
		if strings.EqualFold(m, "emailOtp") {
			return MethodEmailOTP
		}
	}
	return MethodTOTP
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("vrchat api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("vrchat api: %d %s", e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the VRChat API with a cookie-based session.
type Client struct {
	base      *url.URL
	userAgent string
	jar       *cookiejar.Jar
	http      *http.Client
}

// New creates a client with an empty cookie jar.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "vrcguard/" + buildinfo.Version
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		base:      base,
		userAgent: opts.UserAgent,
		jar:       jar,
		http:      &http.Client{Jar: jar, Timeout: opts.Timeout},
	}, nil
}

type currentUserResponse struct {
	core.Profile
	Username              string   `json:"username"`
	RequiresTwoFactorAuth []string `json:"requiresTwoFactorAuth"`
}

func (r currentUserResponse) result() (core.Profile, error) {
	if len(r.RequiresTwoFactorAuth) > 0 {
		return core.Profile{}, &TwoFactorError{Methods: r.RequiresTwoFactorAuth}
	}
	return r.Profile, nil
}

// Login authenticates with a password. When the account has two-factor
// authentication enabled the returned error is a *TwoFactorError and the
// session must be completed with VerifyTwoFactor.
func (c *Client) Login(ctx context.Context, username, password string) (core.Profile, error) {
	var resp currentUserResponse
	err := c.do(ctx, http.MethodGet, "auth/user", nil, &resp, func(r *http.Request) {
		r.SetBasicAuth(url.QueryEscape(username), url.QueryEscape(password))
	})
	if err != nil {
		return core.Profile{}, fmt.Errorf("login: %w", err)
	}
	return resp.result()
}

// VerifyTwoFactor submits a second-factor code.
func (c *Client) VerifyTwoFactor(ctx context.Context, method, code string) error {
	switch method {
	case MethodTOTP, MethodOTP, MethodEmailOTP:
	default:
		return fmt.Errorf("unknown two-factor method %q", method)
	}
	var resp struct {
		Verified bool `json:"verified"`
	}
	path := "auth/twofactorauth/" + method + "/verify"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"code": code}, &resp, nil); err != nil {
		return fmt.Errorf("verify %s: %w", method, err)
	}
	if !resp.Verified {
		return ErrVerificationFailed
	}
	return nil
}

// CurrentUser returns the profile of the logged-in account.
func (c *Client) CurrentUser(ctx context.Context) (core.Profile, error) {
	var resp currentUserResponse
	if err := c.do(ctx, http.MethodGet, "auth/user", nil, &resp, nil); err != nil {
		return core.Profile{}, fmt.Errorf("current user: %w", err)
	}
	return resp.result()
}

func (c *Client) GetProfile(ctx context.Context, id string) (core.Profile, error) {
	var p core.Profile
	err := c.do(ctx, http.MethodGet, "users/"+id, nil, &p, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return core.Profile{}, fmt.Errorf("get user %s: %w", id, core.ErrProfileNotFound)
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return p, nil
}

func (c *Client) Ban(ctx context.Context, groupID, id string) error {
	path := "groups/" + groupID + "/bans"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"userId": id}, nil, nil); err != nil {
		return fmt.Errorf("ban %s from %s: %w", id, groupID, err)
	}
	return nil
}

func (c *Client) Invite(ctx context.Context, groupID, id string) error {
	path := "groups/" + groupID + "/invites"
	body := map[string]any{"userId": id, "confirmOverrideBlock": true}
	if err := c.do(ctx, http.MethodPost, path, body, nil, nil); err != nil {
		return fmt.Errorf("invite %s to %s: %w", id, groupID, err)
	}
	return nil
}

// SaveCookies writes the session cookies as a single Cookie header line.
func (c *Client) SaveCookies(path string) error {
	cookies := c.jar.Cookies(c.base.ResolveReference(&url.URL{Path: "auth/user"}))
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	if err := os.WriteFile(path, []byte(strings.Join(parts, "; ")), 0o600); err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}

// LoadCookies restores cookies written by SaveCookies.
func (c *Client) LoadCookies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		return fmt.Errorf("load cookies: %s is empty", path)
	}
	cookies, err := http.ParseCookie(line)
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}
	for _, ck := range cookies {
		ck.Path = "/"
	}
	c.jar.SetCookies(c.base, cookies)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, mutate func(*http.Request)) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(&url.URL{Path: path}).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		return strings.Trim(body.Error.Message, `"`)
	}
	return ""
}
