// Package directory provides a client for the external directory service that
// issues and hosts sites.
package directory

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/apperrors"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/logging"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/models"
	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/retry"
)

// DefaultTimeout is the maximum time to wait for directory service responses.
const DefaultTimeout = 30 * time.Second

// ErrSiteExists is returned by CreateSite when the service reports a name collision.
var ErrSiteExists = errors.New("site already exists")

// StatusError is a non-success response from the directory service.
type StatusError struct {
	StatusCode int
	Body       string // sanitized and truncated
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("directory service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("directory service returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps well-known status codes onto sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusConflict:
		return ErrSiteExists
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrPermissionDenied
	default:
		return nil
	}
}

// IsRetryable reports whether the status is worth retrying.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CreateSiteRequest is the provisioning payload.
type CreateSiteRequest struct {
	DisplayName string `json:"displayName"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
	TokenProvider TokenProvider
	// ReadRetry applies to GetSite. Defaults to two retries 250ms apart.
	ReadRetry *retry.Config
}

// Client provides access to the directory service API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	readRetry     *retry.Config
	logger        *zap.Logger
}

// NewClient creates a new directory service client.
func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	readRetry := opts.ReadRetry
	if readRetry == nil {
		readRetry = retry.Fixed(2, 250*time.Millisecond)
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient:    httpClient,
		tokenProvider: opts.TokenProvider,
		readRetry:     readRetry,
		logger:        logger.Named("directory"),
	}
}

// GetSite fetches a site by id or, on the 409-recovery path, by slug.
// A missing site returns a *StatusError that matches apperrors.ErrNotFound.
// Throttling, 5xx responses and transient network errors are retried.
func (c *Client) GetSite(ctx context.Context, idOrSlug string) (*models.Site, error) {
	c.logger.Debug("Fetching site from directory service", zap.String("site", idOrSlug))

	var site models.Site
	err := retry.DoIfRetryable(ctx, c.readRetry, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, nil, "resources", idOrSlug)
		if err != nil {
			return err
		}
		site = models.Site{}
		return c.do(req, &site)
	})
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// CheckSite verifies that a site exists. It returns nil when the service answers
// with a success status and the *StatusError (or transport error) otherwise.
func (c *Client) CheckSite(ctx context.Context, siteID string) error {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "resources", siteID)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// CreateSite provisions a new site. A name collision returns an error matching
// ErrSiteExists; callers recover by fetching the existing site by slug.
func (c *Client) CreateSite(ctx context.Context, in CreateSiteRequest) (*models.Site, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, body, "resources")
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("client-request-id", requestID)

	c.logger.Info("Provisioning site with directory service",
		zap.String("display_name", in.DisplayName),
		zap.String("slug", in.Slug),
		zap.String("request_id", requestID))

	var site models.Site
	if err := c.do(req, &site); err != nil {
		return nil, err
	}
	if site.ID == "" {
		return nil, fmt.Errorf("directory service returned a site without id")
	}
	return &site, nil
}

func (c *Client) newRequest(ctx context.Context, method string, body []byte, segments ...string) (*http.Request, error) {
	endpoint, err := buildURL(c.baseURL, segments...)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.tokenProvider == nil {
		return nil, ErrNoToken
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain directory token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes req and decodes a JSON success body into out (if non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call directory service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Body:       logging.SanitizeText(strings.TrimSpace(string(body))),
		}
		if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusConflict {
			c.logger.Warn("Directory service returned error",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", resp.StatusCode),
				zap.String("body", statusErr.Body))
		}
		return statusErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// buildURL appends path segments to the base URL, escaping each one so ids
// containing reserved characters stay a single segment.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}

	plain := strings.TrimRight(u.Path, "/")
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	for _, s := range pathSegments {
		if s == "" {
			return "", fmt.Errorf("empty path segment")
		}
		plain += "/" + s
		escaped += "/" + url.PathEscape(s)
	}
	u.Path = plain
	u.RawPath = escaped

	return u.String(), nil
}
