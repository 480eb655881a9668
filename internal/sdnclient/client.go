// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sdnclient is a thin HTTP/JSON client to the SDN controller's
// northbound API: route, block, remove-flow, remove-route and batch
// commands. It never retries; the caller (the reconciler) decides how
// to react to failure.
package sdnclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"grimm.is/dnswall/internal/errors"
	"grimm.is/dnswall/internal/logging"
	"grimm.is/dnswall/internal/metrics"
)

// DefaultTimeout is the per-call HTTP timeout; short because a slow
// controller must never stall the DNS response path.
const DefaultTimeout = time.Second

// Command is one entry of a batch() call: either a flow (block) or a
// route action.
type Command struct {
	Type    string   `json:"type"`              // "flow" or "route"
	Action  string   `json:"action"`            // "block" or "remove"
	IPs     []string `json:"ips"`
	Nexthop string   `json:"nexthop,omitempty"`
}

// Outcome records the result of one call, kept in a small ring for
// GET /api/controller/health.
type Outcome struct {
	Op        string
	At        time.Time
	Succeeded bool
	Err       string
}

// Client talks to the SDN controller's northbound API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger

	mu      sync.Mutex
	recent  []Outcome
	ringCap int

	// Metrics, when set, records call counts and latency per operation.
	Metrics *metrics.Metrics
}

// New returns a Client targeting controllerURL (e.g.
// "http://controller:8181").
func New(controllerURL string) *Client {
	return &Client{
		baseURL: controllerURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logging.WithComponent("sdnclient"),
		ringCap: 50,
	}
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}

// Route installs a route flow sending ips via nexthop.
func (c *Client) Route(ctx context.Context, nexthop string, ips []net.IP) error {
	return c.post(ctx, "route", "/api/route", map[string]any{
		"nexthop": nexthop,
		"ips":     ipStrings(ips),
	})
}

// Block installs a drop flow for ips.
func (c *Client) Block(ctx context.Context, ips []net.IP) error {
	return c.post(ctx, "block", "/api/block", map[string]any{
		"ips": ipStrings(ips),
	})
}

// RemoveFlow removes any flow rule matching ips.
func (c *Client) RemoveFlow(ctx context.Context, ips []net.IP) error {
	return c.del(ctx, "remove_flow", "/api/remove/flow", map[string]any{
		"ips": ipStrings(ips),
	})
}

// RemoveRoute withdraws the kernel route for ips.
func (c *Client) RemoveRoute(ctx context.Context, ips []net.IP) error {
	return c.del(ctx, "remove_route", "/api/remove/route", map[string]any{
		"ips": ipStrings(ips),
	})
}

// Batch issues an ordered list of commands in one request.
func (c *Client) Batch(ctx context.Context, commands []Command) error {
	return c.post(ctx, "batch", "/api/batch", map[string]any{
		"commands": commands,
	})
}

func (c *Client) post(ctx context.Context, op, path string, body map[string]any) error {
	return c.do(ctx, op, http.MethodPost, path, body)
}

func (c *Client) del(ctx context.Context, op, path string, body map[string]any) error {
	return c.do(ctx, op, http.MethodDelete, path, body)
}

func (c *Client) do(ctx context.Context, op, method, path string, body map[string]any) error {
	start := time.Now()
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "sdnclient: marshal "+op)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "sdnclient: build request for "+op)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := errors.KindUnavailable
		if ctxErr := ctx.Err(); ctxErr != nil {
			kind = errors.KindTimeout
		} else if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
			kind = errors.KindTimeout
		}
		callErr := errors.Wrapf(err, kind, "sdnclient: %s request failed", op)
		c.record(op, false, callErr)
		c.observe(op, "error", start)
		return callErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		callErr := errors.Errorf(errors.KindUnavailable, "sdnclient: %s returned %d: %s", op, resp.StatusCode, body.Error)
		c.record(op, false, callErr)
		c.observe(op, "error", start)
		return callErr
	}

	c.record(op, true, nil)
	c.observe(op, "ok", start)
	return nil
}

func (c *Client) observe(op, outcome string, start time.Time) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.ControllerCalls.WithLabelValues(op, outcome).Inc()
	c.Metrics.ControllerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *Client) record(op string, ok bool, err error) {
	o := Outcome{Op: op, At: time.Now(), Succeeded: ok}
	if err != nil {
		o.Err = err.Error()
		c.logger.Warn("controller call failed", "op", op, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, o)
	if len(c.recent) > c.ringCap {
		c.recent = c.recent[len(c.recent)-c.ringCap:]
	}
}

// Recent returns the last N call outcomes, most recent last, for the
// controller health endpoint.
func (c *Client) Recent() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, len(c.recent))
	copy(out, c.recent)
	return out
}
