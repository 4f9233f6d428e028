// Package remote provides an HTTP client for the graph view API of a
// running daemon.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/timzifer/nodebus/graph"
)

const defaultTimeout = 5 * time.Second

// Node describes a single node in the graph snapshot, including its
// endpoint attribution by topic and service name.
type Node struct {
	Name       string              `json:"name"`
	Namespace  string              `json:"namespace"`
	Subscribed map[string][]string `json:"subscribed"`
	Published  map[string][]string `json:"published"`
	Offered    map[string][]string `json:"offered"`
	Used       map[string][]string `json:"used"`
}

// Graph is the full graph snapshot returned by the daemon.
type Graph struct {
	Stats graph.Stats `json:"stats"`
	Nodes []Node      `json:"nodes"`
}

// Topic describes a topic with its registered types and endpoint counts.
type Topic struct {
	Name    string   `json:"name"`
	Types   []string `json:"types"`
	Readers int      `json:"readers"`
	Writers int      `json:"writers"`
}

// Client queries a daemon's graph view endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption adjusts the client during construction.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client, for example to tune
// timeouts or transport settings.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates a client for the daemon at baseURL, for example
// "http://127.0.0.1:8780".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote address is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Graph fetches the full graph snapshot including per-node attribution.
func (c *Client) Graph(ctx context.Context) (*Graph, error) {
	var out Graph
	if err := c.get(ctx, "/api/graph", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Topics fetches the known topics with their types and endpoint counts.
func (c *Client) Topics(ctx context.Context) ([]Topic, error) {
	var out []Topic
	if err := c.get(ctx, "/api/topics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nodes fetches the discovered nodes.
func (c *Client) Nodes(ctx context.Context) ([]graph.NodeInfo, error) {
	var out []graph.NodeInfo
	if err := c.get(ctx, "/api/nodes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the daemon's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	if err := c.get(ctx, "/healthz", &out); err != nil {
		return err
	}
	if out["status"] != "ok" {
		return fmt.Errorf("unexpected health status %q", out["status"])
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
