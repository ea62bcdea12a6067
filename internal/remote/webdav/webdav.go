// Package webdav implements remote.Store over a WebDAV collection using
// plain HTTP verbs. The engine receives a ready-to-use http.Client; auth
// beyond basic credentials is the caller's concern.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mindwtr/mindwtr/internal/remote"
)

// Client talks to a single WebDAV collection.
type Client struct {
	http     *http.Client
	base     *url.URL
	username string
	password string
}

// New returns a client rooted at baseURL. The URL must be absolute; a
// trailing slash is implied.
func New(httpClient *http.Client, baseURL, username, password string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse webdav url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("webdav url must be absolute: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, base: u, username: username, password: password}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// statusError reads a snippet of the response body so server-provided
// throttle phrases ("blocked temporarily", ...) survive into classification.
func statusError(op, path string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &remote.StatusError{
		Op:      op,
		Path:    path,
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(snippet)),
	}
}

func (c *Client) GetResource(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, 0, statusError("get", path, resp)
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) PutResource(ctx context.Context, path string, body io.Reader, size int64) error {
	// 409 means an intermediate collection is missing. The server may have
	// consumed part of the body before rejecting, so tee what the first
	// attempt read; the retry replays that prefix plus the unread rest.
	var replay bytes.Buffer
	err := c.put(ctx, path, io.TeeReader(body, &replay), size)

	var se *remote.StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		if mkErr := c.mkcolAll(ctx, path); mkErr != nil {
			return mkErr
		}
		return c.put(ctx, path, io.MultiReader(bytes.NewReader(replay.Bytes()), body), size)
	}
	return err
}

func (c *Client) put(ctx context.Context, path string, body io.Reader, size int64) error {
	req, err := c.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("put", path, resp)
	}
	return nil
}

func (c *Client) DeleteResource(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("delete", path, resp)
	}
	return nil
}

// mkcolAll creates every missing collection on the way to path's parent.
// 405 from the server means the collection already exists.
func (c *Client) mkcolAll(ctx context.Context, path string) error {
	parts := strings.Split(path, "/")
	prefix := ""
	for _, part := range parts[:len(parts)-1] {
		if part == "" {
			continue
		}
		prefix += part + "/"
		req, err := c.newRequest(ctx, "MKCOL", prefix, nil)
		if err != nil {
			return fmt.Errorf("mkcol %s: %w", prefix, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("mkcol %s: %w", prefix, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
			return &remote.StatusError{Op: "mkcol", Path: prefix, Status: resp.StatusCode}
		}
	}
	return nil
}
