package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vireo-rt/vireo/internal/platform"
	"github.com/vireo-rt/vireo/internal/sched"
	"github.com/vireo-rt/vireo/internal/trace"
)

// Client is a typed HTTP/3 client for a running inspector.
type Client struct {
	http *http.Client
	base string
}

// NewClient connects to the inspector at addr (host:port). Certificate
// verification is skipped; inspectors serve self-signed local certs.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http: newHTTP3Client(InsecureClientTLS(), timeout),
		base: "https://" + addr,
	}
}

// Close releases the underlying QUIC transport.
func (c *Client) Close() {
	closeTransport(c.http)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("inspect: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inspect: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inspect: %s: status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inspect: decode %s: %w", path, err)
	}
	return nil
}

// State fetches the machine snapshot.
func (c *Client) State(ctx context.Context) (platform.MachineState, error) {
	var st platform.MachineState
	err := c.getJSON(ctx, "/api/state", &st)
	return st, err
}

// Tasks fetches the task snapshots.
func (c *Client) Tasks(ctx context.Context) ([]sched.TaskInfo, error) {
	var tasks []sched.TaskInfo
	err := c.getJSON(ctx, "/api/tasks", &tasks)
	return tasks, err
}

// Trace fetches up to n recent trace samples.
func (c *Client) Trace(ctx context.Context, n int) ([]trace.Sample, error) {
	var samples []trace.Sample
	err := c.getJSON(ctx, "/api/trace?n="+strconv.Itoa(n), &samples)
	return samples, err
}

// Profile fetches the board profile in effect.
func (c *Client) Profile(ctx context.Context) (*platform.Profile, error) {
	var p platform.Profile
	if err := c.getJSON(ctx, "/api/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Console fetches the recent console output.
func (c *Client) Console(ctx context.Context) (string, error) {
	var body struct {
		Text string `json:"text"`
	}
	err := c.getJSON(ctx, "/api/console", &body)
	return body.Text, err
}

// Host fetches facts about the hosting process.
func (c *Client) Host(ctx context.Context) (HostInfo, error) {
	var info HostInfo
	err := c.getJSON(ctx, "/api/host", &info)
	return info, err
}

// SendConsoleInput feeds bytes to the console's receive side.
func (c *Client) SendConsoleInput(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/console/input", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("inspect: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inspect: console input: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("inspect: console input: status %s", resp.Status)
	}
	return nil
}
