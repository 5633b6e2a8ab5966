// Package remote provides a gateway that talks to a blob API server over
// HTTP, with retry and bearer auth.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/protocol"
	"github.com/fruitsalade/blobtext/pkg/retry"
)

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// Client implements gateway.Gateway against the blob API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	authToken string
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}, nil
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth header to requests aimed at the blob API.
func (c *Client) applyAuth(req *http.Request) {
	if !strings.HasPrefix(req.URL.String(), c.baseURL) {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline reports whether the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("blob API is back online", zap.String("url", c.baseURL))
		} else {
			logging.Warn("blob API is unreachable", zap.String("url", c.baseURL))
		}
	}
	c.online = online
}

type request struct {
	method  string
	url     string
	body    []byte
	headers map[string]string
}

// do sends req with retry and returns the response body of a 2xx reply.
// Network errors and 5xx replies are retried.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
		if err != nil {
			return nil, err
		}
		for k, v := range r.headers {
			req.Header.Set(k, v)
		}
		if requestID := logging.GetRequestID(ctx); requestID != "" {
			req.Header.Set(protocol.HeaderRequestID, requestID)
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.setOnline(false)
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()
		c.setOnline(true)

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		err = statusError(r, resp.StatusCode, data)
		if resp.StatusCode >= 500 {
			return nil, retry.Retryable(err)
		}
		return nil, err
	})
}

func statusError(r request, code int, body []byte) error {
	msg := http.StatusText(code)
	var errResp protocol.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	if code == http.StatusNotFound {
		return fmt.Errorf("%s %s: %s: %w", r.method, r.url, msg, fs.ErrNotExist)
	}
	return fmt.Errorf("%s %s: server returned %d: %s", r.method, r.url, code, msg)
}

func (c *Client) objectURL(pathname string) string {
	segs := strings.Split(pathname, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.baseURL + "/api/blob/object/" + strings.Join(segs, "/")
}

// List fetches every raw object.
func (c *Client) List(ctx context.Context) ([]models.RawObject, error) {
	data, err := c.do(ctx, request{method: http.MethodGet, url: c.baseURL + "/api/blob/list"})
	if err != nil {
		return nil, err
	}
	var resp protocol.ListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return resp.Blobs, nil
}

// GetContent downloads the content at an object URL.
func (c *Client) GetContent(ctx context.Context, u string) (string, error) {
	data, err := c.do(ctx, request{method: http.MethodGet, url: u})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) put(ctx context.Context, pathname string, body []byte, headers map[string]string) (models.PutResult, error) {
	data, err := c.do(ctx, request{
		method:  http.MethodPut,
		url:     c.objectURL(pathname),
		body:    body,
		headers: headers,
	})
	if err != nil {
		return models.PutResult{}, err
	}
	var res models.PutResult
	if err := json.Unmarshal(data, &res); err != nil {
		return models.PutResult{}, fmt.Errorf("decode put: %w", err)
	}
	return res, nil
}

// Put uploads content.
func (c *Client) Put(ctx context.Context, pathname, content string, opts models.PutOptions) (models.PutResult, error) {
	headers := map[string]string{"Content-Type": models.ContentTypeText}
	if opts.AddRandomSuffix {
		headers[protocol.HeaderAddRandomSuffix] = "1"
	}
	return c.put(ctx, pathname, []byte(content), headers)
}

// CreateDirectoryMarker creates a directory marker object.
func (c *Client) CreateDirectoryMarker(ctx context.Context, pathname string) (models.PutResult, error) {
	if !strings.HasSuffix(pathname, "/") {
		pathname += "/"
	}
	return c.put(ctx, pathname, []byte{}, map[string]string{"Content-Type": models.ContentTypeDirectory})
}

// Delete removes objects by URL in one request.
func (c *Client) Delete(ctx context.Context, urls []string) error {
	body, err := json.Marshal(protocol.DeleteRequest{URLs: urls})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, request{
		method:  http.MethodPost,
		url:     c.baseURL + "/api/blob/delete",
		body:    body,
		headers: map[string]string{"Content-Type": "application/json"},
	})
	return err
}

// Type returns "remote".
func (c *Client) Type() string { return "remote" }

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
