// Package httpgateway implements goRecover.Gateway and goRecover.Verifier
// against the httpapi server, so a Session can run in a different process
// from the engine.
package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/httpapi"
	"go.uber.org/zap"
)

var (
	_ goRecover.Gateway  = (*Client)(nil)
	_ goRecover.Verifier = (*Client)(nil)
)

// StatusError is a non-2xx answer from the server. It unwraps to the engine
// sentinel matching its code, so errors.Is works across the wire.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpgateway: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case httpapi.CodeInvalidFormat:
		return goRecover.ErrInvalidIdentifierFormat
	case httpapi.CodeRateLimited:
		return goRecover.ErrRecoveryRateLimited
	case httpapi.CodeNotVerified:
		return goRecover.ErrRecoveryNotVerified
	case httpapi.CodePasswordTooWeak:
		return goRecover.ErrPasswordTooWeak
	case httpapi.CodeUnavailable:
		return goRecover.ErrRecoveryUnavailable
	case httpapi.CodeDisabled:
		return goRecover.ErrRecoveryDisabled
	default:
		return nil
	}
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.logger = l } }

// Client talks to one httpapi server. It keeps the grant returned by a
// successful verify and presents it on the matching commit.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	grants map[string]string
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  zap.NewNop(),
		grants:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) RequestOTP(ctx context.Context, id goRecover.Identifier) (goRecover.Dispatch, error) {
	var out httpapi.OTPResponse
	err := c.do(ctx, "/v1/recovery/otp", httpapi.OTPRequest{
		Identifier: id.Value,
		Method:     id.Method.String(),
	}, "", http.StatusAccepted, &out)
	if err != nil {
		return goRecover.Dispatch{}, dispatchError(err)
	}
	return goRecover.Dispatch{
		Destination: out.Destination,
		ExpiresIn:   time.Duration(out.ExpiresInSeconds) * time.Second,
	}, nil
}

// VerifyOTP returns (false, nil) for a rejected code. An accepted code
// leaves its grant in the client for CommitNewPassword.
func (c *Client) VerifyOTP(ctx context.Context, id goRecover.Identifier, code string) (bool, error) {
	var out httpapi.VerifyResponse
	err := c.do(ctx, "/v1/recovery/otp/verify", httpapi.VerifyRequest{
		Identifier: id.Value,
		Method:     id.Method.String(),
		Code:       code,
	}, "", http.StatusOK, &out)
	if err != nil {
		return false, err
	}
	if !out.Accepted {
		return false, nil
	}
	if out.Grant == "" {
		return false, errors.New("httpgateway: accepted code without grant")
	}

	c.mu.Lock()
	c.grants[grantKey(id)] = out.Grant
	c.mu.Unlock()
	return true, nil
}

func (c *Client) CommitNewPassword(ctx context.Context, id goRecover.Identifier, newPassword string) error {
	key := grantKey(id)
	c.mu.Lock()
	token := c.grants[key]
	c.mu.Unlock()
	if token == "" {
		return fmt.Errorf("%w: %w", goRecover.ErrCommitFailed, goRecover.ErrRecoveryNotVerified)
	}

	err := c.do(ctx, "/v1/recovery/password", httpapi.PasswordRequest{
		Identifier:  id.Value,
		Method:      id.Method.String(),
		NewPassword: newPassword,
	}, token, http.StatusNoContent, nil)
	if err != nil {
		if errors.Is(err, goRecover.ErrPasswordTooWeak) {
			return err
		}
		return fmt.Errorf("%w: %w", goRecover.ErrCommitFailed, err)
	}

	c.mu.Lock()
	delete(c.grants, key)
	c.mu.Unlock()
	return nil
}

func (c *Client) RequestEmailVerification(ctx context.Context, email string) (goRecover.Dispatch, error) {
	var out httpapi.OTPResponse
	if err := c.do(ctx, "/v1/verification/email", httpapi.EmailRequest{Email: email}, "", http.StatusAccepted, &out); err != nil {
		return goRecover.Dispatch{}, dispatchError(err)
	}
	return goRecover.Dispatch{
		Destination: out.Destination,
		ExpiresIn:   time.Duration(out.ExpiresInSeconds) * time.Second,
	}, nil
}

func (c *Client) ConfirmEmailVerification(ctx context.Context, email, code string) (bool, error) {
	var out httpapi.ConfirmResponse
	if err := c.do(ctx, "/v1/verification/email/confirm", httpapi.ConfirmRequest{Email: email, Code: code}, "", http.StatusOK, &out); err != nil {
		return false, err
	}
	return out.Verified, nil
}

func (c *Client) do(ctx context.Context, path string, in any, bearer string, want int, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		se := &StatusError{Status: resp.StatusCode}
		var e httpapi.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<10)).Decode(&e); err == nil {
			se.Code = e.Error
			se.Message = e.Message
		}
		c.logger.Debug("request rejected", zap.String("path", path), zap.Int("status", se.Status), zap.String("code", se.Code))
		return se
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func grantKey(id goRecover.Identifier) string {
	n := goRecover.NormalizeIdentifier(id)
	return n.Method.String() + ":" + n.Value
}

func dispatchError(err error) error {
	if errors.Is(err, goRecover.ErrInvalidIdentifierFormat) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", goRecover.ErrDispatchFailed, err)
}
