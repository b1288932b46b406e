package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a running slated instance.
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

// Start requests the daemon to start the engine.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Slate.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the engine.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Slate.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Slate.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs matching the request's filter, sort, and page.
func (c *Client) JobList(req JobListRequest) (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Slate.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobShow returns details for a single job.
func (c *Client) JobShow(id int64) (*JobShowResponse, error) {
	var resp JobShowResponse
	if err := c.client.Call("Slate.JobShow", JobShowRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobCancel cancels the given jobs.
func (c *Client) JobCancel(ids []int64) (*JobCancelResponse, error) {
	var resp JobCancelResponse
	if err := c.client.Call("Slate.JobCancel", JobCancelRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobRetry requeues the given failed jobs.
func (c *Client) JobRetry(ids []int64) (*JobRetryResponse, error) {
	var resp JobRetryResponse
	if err := c.client.Call("Slate.JobRetry", JobRetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobForceRun promotes the given deferred jobs past their guardrails.
func (c *Client) JobForceRun(ids []int64) (*JobForceRunResponse, error) {
	var resp JobForceRunResponse
	if err := c.client.Call("Slate.JobForceRun", JobForceRunRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueuePause holds back new job starts.
func (c *Client) QueuePause() (*QueuePauseResponse, error) {
	var resp QueuePauseResponse
	if err := c.client.Call("Slate.QueuePause", QueuePauseRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueResume reopens worker slots.
func (c *Client) QueueResume() (*QueueResumeResponse, error) {
	var resp QueueResumeResponse
	if err := c.client.Call("Slate.QueueResume", QueueResumeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClear cancels every queued job.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	var resp QueueClearResponse
	if err := c.client.Call("Slate.QueueClear", QueueClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStats returns job counts per state.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var resp QueueStatsResponse
	if err := c.client.Call("Slate.QueueStats", QueueStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth returns queue diagnostics.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("Slate.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Slate.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RulesList returns the installed rule set.
func (c *Client) RulesList() (*RulesListResponse, error) {
	var resp RulesListResponse
	if err := c.client.Call("Slate.RulesList", RulesListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RulesReload re-reads the rules directory.
func (c *Client) RulesReload() (*RulesReloadResponse, error) {
	var resp RulesReloadResponse
	if err := c.client.Call("Slate.RulesReload", RulesReloadRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RuleTest dry-runs an event against one rule.
func (c *Client) RuleTest(req RuleTestRequest) (*RuleTestResponse, error) {
	var resp RuleTestResponse
	if err := c.client.Call("Slate.RuleTest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EventEmit injects an event into the engine.
func (c *Client) EventEmit(req EventEmitRequest) (*EventEmitResponse, error) {
	var resp EventEmitResponse
	if err := c.client.Call("Slate.EventEmit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Slate.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Slate.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
