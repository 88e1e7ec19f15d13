package uds

import (
	"fmt"
	"net"
	"time"
)

// Client dials the daemon's control socket, one connection per command.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// RequestMutation submits a mutation request for an entity.
func (c *Client) RequestMutation(p RequestParams) (*Response, error) {
	return c.SendCommand(CmdRequest, p)
}

// UndoAction asks the daemon to cancel a pending action. A TOO_LATE or
// STALE_UNDO error response means the undo lost the race, not that the
// daemon misbehaved.
func (c *Client) UndoAction(actionID string) (*Response, error) {
	return c.SendCommand(CmdUndo, UndoParams{ActionID: actionID})
}

// SendCommand marshals params and performs one round-trip.
func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to daemon at %s: %w\n"+
				"Is the daemon running? Start it with: inboxd daemon",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &resp, nil
}
