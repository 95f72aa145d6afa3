package kasa

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
)

// MockServer is an in-process plug answering the local protocol.
type MockServer struct {
	listener net.Listener
	mu       sync.Mutex
	requests int

	Alias   string
	Model   string
	On      bool
	ErrCode int
}

func NewMockServer() (*MockServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := &MockServer{
		listener: ln,
		Alias:    "Mock Plug",
		Model:    "HS100(US)",
	}
	go m.serve()
	return m, nil
}

func (m *MockServer) Addr() string {
	return m.listener.Addr().String()
}

func (m *MockServer) Port() int {
	return m.listener.Addr().(*net.TCPAddr).Port
}

func (m *MockServer) Close() error {
	return m.listener.Close()
}

func (m *MockServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *MockServer) IsOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.On
}

func (m *MockServer) SetErrCode(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrCode = code
}

func (m *MockServer) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handleConn(conn)
	}
}

func (m *MockServer) handleConn(conn net.Conn) {
	defer conn.Close()
	payload, err := readFrame(conn)
	if err != nil {
		return
	}
	var req struct {
		System map[string]json.RawMessage `json:"system"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	m.mu.Lock()
	m.requests++
	reply := map[string]any{}
	if raw, ok := req.System["set_relay_state"]; ok {
		var args struct {
			State int `json:"state"`
		}
		json.Unmarshal(raw, &args)
		if m.ErrCode == 0 {
			m.On = args.State == 1
		}
		reply["set_relay_state"] = m.status()
	}
	if _, ok := req.System["get_sysinfo"]; ok {
		info := m.status()
		info["alias"] = m.Alias
		info["model"] = m.Model
		info["mic_type"] = "IOT.SMARTPLUGSWITCH"
		info["deviceId"] = "MOCK" + strconv.Itoa(m.Port())
		info["relay_state"] = 0
		if m.On {
			info["relay_state"] = 1
		}
		reply["get_sysinfo"] = info
	}
	m.mu.Unlock()

	out, _ := json.Marshal(map[string]any{"system": reply})
	writeFrame(conn, out)
}

func (m *MockServer) status() map[string]any {
	st := map[string]any{"err_code": m.ErrCode}
	if m.ErrCode != 0 {
		st["err_msg"] = "module not support"
	}
	return st
}
