// Package consensus provides an HTTP client binding partition.Consensus to
// a remote consensus service. StepDown and GoInactive go out as JSON POST
// requests over net/http, with failures typed as duh-go client errors and
// retried through duh-go's retry package; role-change notifications do not
// travel over the request path
// of this client at all - the consensus service pushes them, and the
// transport handler wired to that push calls ReceiveRoleChange.
package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/duh-rpc/duh-go"
	"github.com/duh-rpc/duh-go/retry"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
)

// RPC paths the remote consensus service exposes for this partition's
// step-down / go-inactive requests.
const (
	RPCStepDown   = "/v1/consensus.step_down"
	RPCGoInactive = "/v1/consensus.go_inactive"
)

type stepDownRequest struct {
	PartitionID int64 `json:"partition_id"`
}

type goInactiveRequest struct {
	PartitionID int64 `json:"partition_id"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Client is the underlying http.Client used for outbound RPCs.
	Client *http.Client
	// Endpoint is the consensus service address, e.g. "http://localhost:2319".
	Endpoint string
	// PartitionID identifies the partition this client tracks.
	PartitionID int64
	// RetryAttempts bounds how many attempts, the first one included, a
	// step_down/go_inactive request makes before giving up.
	RetryAttempts int
	// RetryInterval paces the retry backoff between attempts.
	RetryInterval clock.Duration
}

func (c *ClientConfig) setDefaults() {
	set.Default(&c.Client, &http.Client{})
	set.Default(&c.RetryAttempts, 5)
	set.Default(&c.RetryInterval, 100*clock.Millisecond)
}

// Client implements partition.Consensus over an HTTP connection to a remote
// consensus service. It is the only Consensus implementation this module
// ships; a caller embedding the core in-process against its own consensus
// module can satisfy partition.Consensus directly instead.
type Client struct {
	conf ClientConfig

	mu       sync.Mutex
	role     partition.Role
	term     int64
	listener partition.RoleListener
}

var _ partition.Consensus = &Client{}

// New creates a Client. conf.Endpoint must be set.
func New(conf ClientConfig) (*Client, error) {
	conf.setDefaults()
	if len(conf.Endpoint) == 0 {
		return nil, errors.New("conf.Endpoint is empty; must provide an http endpoint")
	}
	return &Client{conf: conf}, nil
}

func (c *Client) AddRoleListener(l partition.RoleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// RemoveRoleListener clears the registered listener. This client only ever
// tracks one listener at a time, so unlike a multi-observer registry it does
// not need to compare l against what is currently registered - which also
// avoids panicking on listener implementations backed by non-comparable
// types (closures, slices).
func (c *Client) RemoveRoleListener(partition.RoleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = nil
}

func (c *Client) CurrentRole() partition.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) CurrentTerm() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// Term satisfies partition.Consensus's term re-check; it reports the same
// value CurrentTerm does since this client has no view of the term other
// than what the consensus service last pushed it.
func (c *Client) Term() int64 {
	return c.CurrentTerm()
}

// ReceiveRoleChange updates the client's cached role/term and forwards the
// change to the registered listener. It is called by the transport handler
// the consensus service's push lands on, never by this client itself.
func (c *Client) ReceiveRoleChange(role partition.Role, term int64) {
	c.mu.Lock()
	c.role = role
	c.term = term
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l.OnNewRole(role, term)
	}
}

func (c *Client) StepDown(ctx context.Context) error {
	return c.call(ctx, RPCStepDown, &stepDownRequest{PartitionID: c.conf.PartitionID})
}

func (c *Client) GoInactive(ctx context.Context) error {
	return c.call(ctx, RPCGoInactive, &goInactiveRequest{PartitionID: c.conf.PartitionID})
}

func (c *Client) call(ctx context.Context, path string, body any) error {
	policy := retry.Policy{
		Interval: retry.Sleep(c.conf.RetryInterval),
		Attempts: c.conf.RetryAttempts,
	}
	return retry.On(ctx, policy, func(ctx context.Context, i int) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return duh.NewClientError("while marshaling request payload: %w", err, nil)
		}

		r, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s%s", c.conf.Endpoint, path), bytes.NewReader(payload))
		if err != nil {
			return duh.NewClientError("", err, nil)
		}
		r.Header.Set("Content-Type", "application/json")

		resp, err := c.conf.Client.Do(r)
		if err != nil {
			return duh.NewClientError("while making request: %w", err, nil)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			statusErr := fmt.Errorf("consensus request failed with status %d: %s", resp.StatusCode, msg)
			return duh.NewClientError("", statusErr, nil)
		}
		return nil
	})
}
