package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a daemon socket.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit queues a command on the daemon. The response reports acceptance,
// not completion; watch Status for the outcome.
func (c *Client) Submit(cmd Command) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Meridian.Submit", SubmitRequest{Command: cmd}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmergencyStop pre-empts whatever the daemon is doing.
func (c *Client) EmergencyStop() (*EmergencyStopResponse, error) {
	var resp EmergencyStopResponse
	if err := c.client.Call("Meridian.EmergencyStop", EmergencyStopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Interrupt stops the daemon's current command if it is interruptible.
func (c *Client) Interrupt() (*InterruptResponse, error) {
	var resp InterruptResponse
	if err := c.client.Call("Meridian.Interrupt", InterruptRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Meridian.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks the daemon control loop is alive.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Meridian.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit cleanly.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Meridian.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue adds an exposure set to the exposure queue daemon.
func (c *Client) Enqueue(req EnqueueRequest) (*EnqueueResponse, error) {
	var resp EnqueueResponse
	if err := c.client.Call("Meridian.Enqueue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a pending or running queue entry.
func (c *Client) Cancel(id int64) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Meridian.Cancel", CancelRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns queue entries optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.client.Call("Meridian.QueueList", QueueListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueuePause suspends queue dispatch.
func (c *Client) QueuePause() (*QueuePauseResponse, error) {
	var resp QueuePauseResponse
	if err := c.client.Call("Meridian.QueuePause", QueuePauseRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueResume resumes queue dispatch.
func (c *Client) QueueResume() (*QueueResumeResponse, error) {
	var resp QueueResumeResponse
	if err := c.client.Call("Meridian.QueueResume", QueueResumeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClear removes finished entries, or all non-running entries.
func (c *Client) QueueClear(all bool) (*QueueClearResponse, error) {
	var resp QueueClearResponse
	if err := c.client.Call("Meridian.QueueClear", QueueClearRequest{All: all}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PilotStatus fetches the pilot's night summary.
func (c *Client) PilotStatus() (*PilotStatusResponse, error) {
	var resp PilotStatusResponse
	if err := c.client.Call("Meridian.PilotStatus", PilotStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PilotAbort forces the pilot into emergency abort.
func (c *Client) PilotAbort(reason string) (*PilotAbortResponse, error) {
	var resp PilotAbortResponse
	if err := c.client.Call("Meridian.PilotAbort", PilotAbortRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
