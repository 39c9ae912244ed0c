// Package manifestclient fetches the root descriptor and manifest
// sub-lists over HTTPS and opens byte streams for individual files
// (spec §4.1, §6).
package manifestclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

// UserAgent is the fixed User-Agent sent on every request (spec §4.1, §6).
const UserAgent = "StarDriver/1.0"

const rootDescriptorPath = "management_beta.txt"

// Stream is an open response body with a known (or unknown, -1) length.
type Stream struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 if unknown
	StatusCode    int
}

// StreamOpener is the collaborator abstraction the fetch-verify-install
// pipeline depends on, so tests can inject an in-memory fake instead of a
// real HTTP connection pool (spec §9 "HTTP connection pool" pattern).
type StreamOpener interface {
	FetchRoot(ctx context.Context) (model.RootDescriptor, error)
	FetchList(ctx context.Context, root model.RootDescriptor, name string, reboot bool) ([]model.Entry, int, error)
	OpenStream(ctx context.Context, root model.RootDescriptor, entry model.Entry, useBackup bool) (*Stream, error)
}

// Client is the real HTTPS-backed StreamOpener.
type Client struct {
	http         *http.Client
	rootURL      string
	forbiddenMsg string
}

// NewClient builds a Client whose root descriptor lives at rootURL and
// whose transport keeps connections alive, capped at 28 connections per
// host, with a 90-second idle timeout. No maximum connection lifetime is
// set: a busy connection stays open for as long as the server keeps it.
// Automatic response decompression is left enabled (net/http's default).
func NewClient(rootURL string) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:       28,
		MaxIdleConnsPerHost:   28,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		DisableCompression:    false,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			// Only idle connections are closed (after IdleConnTimeout);
			// http.Transport has no "connection lifetime" knob and nothing
			// here recycles active connections. The orchestrator's periodic
			// health check logs a warning but does not touch the transport.
			Timeout: 0,
		},
		rootURL: rootURL,
	}
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Host", u.Host)
	req.Host = u.Host
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	return req, nil
}

// ForbiddenError reports a 403 response on a manifest fetch (spec §7):
// surfaced verbatim as a regional-restriction explanation, never retried.
type ForbiddenError struct {
	URL string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("Forbidden: %s returned HTTP 403 (this title may be region-restricted)", e.URL)
}

// StatusError wraps a non-2xx, non-403 HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d for %s", e.StatusCode, e.URL)
}

// FetchRoot retrieves and parses the root descriptor.
func (c *Client) FetchRoot(ctx context.Context) (model.RootDescriptor, error) {
	rawURL := joinURL(c.rootURL, rootDescriptorPath)
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return model.RootDescriptor{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.RootDescriptor{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return model.RootDescriptor{}, &ForbiddenError{URL: rawURL}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.RootDescriptor{}, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.RootDescriptor{}, err
	}
	return ParseRoot(body)
}

// FetchList retrieves and parses one manifest sub-list.
func (c *Client) FetchList(ctx context.Context, root model.RootDescriptor, name string, reboot bool) ([]model.Entry, int, error) {
	rawURL := joinURL(root.PatchURL, name)
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, 0, &ForbiddenError{URL: rawURL}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	entries, skipped := ParseList(body, reboot)
	return entries, skipped, nil
}

// OpenStream opens a range-less GET for a single manifest entry, selecting
// the base URL from {patch-primary, patch-backup, master-primary,
// master-backup} according to the entry's channel and useBackup.
func (c *Client) OpenStream(ctx context.Context, root model.RootDescriptor, entry model.Entry, useBackup bool) (*Stream, error) {
	base := root.BaseURL(entry.Channel, useBackup)
	rawURL := joinURL(base, entry.Name)

	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	length := entry.Size
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			length = n
		}
	}

	return &Stream{Body: resp.Body, ContentLength: length, StatusCode: resp.StatusCode}, nil
}

func joinURL(base, name string) string {
	base = strings.TrimRight(base, "/")
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	return base + "/" + name
}
