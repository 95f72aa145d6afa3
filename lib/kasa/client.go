package kasa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var ErrDeviceError = errors.New("device error")

type SysInfo struct {
	Alias      string `json:"alias"`
	DeviceID   string `json:"deviceId"`
	Model      string `json:"model"`
	Type       string `json:"mic_type"`
	MAC        string `json:"mac"`
	SwVer      string `json:"sw_ver"`
	RelayState int    `json:"relay_state"`
	OnTime     int    `json:"on_time"`
}

// Client talks to one plug. Plugs close the connection after each reply,
// so every request dials afresh.
type Client struct {
	addr string
}

// NewClient accepts "host" or "host:port".
func NewClient(addr string) *Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	return &Client{addr: addr}
}

func (c *Client) Addr() string {
	return c.addr
}

// Do sends req and decodes the plug's reply into resp.
func (c *Client) Do(ctx context.Context, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeFrame(conn, payload); err != nil {
		return fmt.Errorf("write %s: %w", c.addr, err)
	}
	reply, err := readFrame(conn)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read %s: %w", c.addr, err)
	}
	if err := json.Unmarshal(reply, resp); err != nil {
		return fmt.Errorf("decode reply from %s: %w", c.addr, err)
	}
	return nil
}

type status struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

func (s status) err() error {
	if s.ErrCode == 0 {
		return nil
	}
	return fmt.Errorf("%w: err_code %d: %s", ErrDeviceError, s.ErrCode, s.ErrMsg)
}

func (c *Client) SetRelayState(ctx context.Context, on bool) error {
	state := 0
	if on {
		state = 1
	}
	req := map[string]any{
		"system": map[string]any{
			"set_relay_state": map[string]int{"state": state},
		},
	}
	var resp struct {
		System struct {
			SetRelayState *status `json:"set_relay_state"`
		} `json:"system"`
	}
	if err := c.Do(ctx, req, &resp); err != nil {
		return err
	}
	if resp.System.SetRelayState == nil {
		return fmt.Errorf("%w: empty reply", ErrDeviceError)
	}
	return resp.System.SetRelayState.err()
}

func (c *Client) SysInfo(ctx context.Context) (*SysInfo, error) {
	req := map[string]any{
		"system": map[string]any{"get_sysinfo": struct{}{}},
	}
	var resp struct {
		System struct {
			GetSysInfo *struct {
				status
				SysInfo
			} `json:"get_sysinfo"`
		} `json:"system"`
	}
	if err := c.Do(ctx, req, &resp); err != nil {
		return nil, err
	}
	info := resp.System.GetSysInfo
	if info == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrDeviceError)
	}
	if err := info.status.err(); err != nil {
		return nil, err
	}
	return &info.SysInfo, nil
}
