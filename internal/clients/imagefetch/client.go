// Package imagefetch downloads remote images and inlines them as data URIs
package imagefetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultMaxBytes  = 5 * 1024 * 1024
	DefaultRateLimit = 2 // requests per second
)

// Client implements interfaces.ImageFetcher
type Client struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithMaxBytes caps the accepted image size
func WithMaxBytes(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new image fetcher
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		maxBytes: DefaultMaxBytes,
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:   common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchAsDataURI downloads sourceURL and returns it as "data:{type};base64,{payload}".
// Failures wrap models.ErrImageFetch; non-image responses wrap models.ErrInvalidImage.
func (c *Client) FetchAsDataURI(ctx context.Context, sourceURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid url %q", models.ErrImageFetch, sourceURL)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrImageFetch, err)
	}
	req.Header.Set("Accept", "image/*")

	c.logger.Debug().Str("url", u.Redacted()).Msg("Image fetch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrImageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d from %s", models.ErrImageFetch, resp.StatusCode, u.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", models.ErrImageFetch, err)
	}
	if int64(len(body)) > c.maxBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", models.ErrInvalidImage, c.maxBytes)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty body", models.ErrInvalidImage)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") {
		contentType = mediaType(http.DetectContentType(body))
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: content type %q", models.ErrInvalidImage, contentType)
	}

	c.logger.Debug().Str("host", u.Host).Str("content_type", contentType).Int("bytes", len(body)).Msg("Image fetched")
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}

var _ interfaces.ImageFetcher = (*Client)(nil)
