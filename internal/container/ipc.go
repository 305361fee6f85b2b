package container

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/ariacorp/ariarun/internal/domain"
)

// DefaultSocketPath is the well-known lifecycle IPC socket location (§6).
const DefaultSocketPath = "/run/quilt/api.sock"

// rpcRequest and rpcResponse implement the length-prefixed JSON-RPC-style
// wire codec named in spec.md §6: a 4-byte big-endian length header
// followed by a JSON payload, one frame per call — no streaming, no
// batching, matched to a local control socket rather than a network RPC
// transport.
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IPCServer exposes a Manager over the local domain socket described in
// spec.md §6. It is the only network-facing surface in this package; the
// ICC HTTP server (§4.6) is a separate, unrelated listener.
type IPCServer struct {
	mgr  *Manager
	log  *slog.Logger
	path string

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{}
}

// NewIPCServer wires mgr behind the socket at path (DefaultSocketPath if empty).
func NewIPCServer(mgr *Manager, path string, logger *slog.Logger) *IPCServer {
	if path == "" {
		path = DefaultSocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IPCServer{mgr: mgr, log: logger, path: path, done: make(chan struct{})}
}

// Serve binds the socket (mode 0660, removing any stale socket file left
// by a prior crashed daemon) and accepts connections until ctx is done.
func (s *IPCServer) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("container: ipc: create socket dir: %w", err)
	}
	os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("container: ipc: listen %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("container: ipc: chmod socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("container: ipc: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting connections and removes the socket file.
func (s *IPCServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	if s.ln != nil {
		s.ln.Close()
	}
	os.Remove(s.path)
	return nil
}

func (s *IPCServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				s.log.Warn("ipc: read frame failed", "error", err)
			}
			return
		}
		resp := s.dispatch(ctx, req)
		if err := writeFrame(conn, resp); err != nil {
			s.log.Warn("ipc: write frame failed", "error", err)
			return
		}
	}
}

func (s *IPCServer) dispatch(ctx context.Context, req rpcRequest) rpcResponse {
	result, err := s.call(ctx, req.Method, req.Params)
	if err != nil {
		return rpcResponse{ID: req.ID, Error: err.Error()}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return rpcResponse{ID: req.ID, Error: err.Error()}
	}
	return rpcResponse{ID: req.ID, Result: raw}
}

func (s *IPCServer) call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "CreateContainer":
		var p struct {
			UserID    string              `json:"user_id"`
			SessionID string              `json:"session_id"`
			Spec      domain.ContainerSpec `json:"spec"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		id, err := s.mgr.CreateContainer(ctx, p.UserID, p.SessionID, p.Spec)
		if err != nil {
			return map[string]any{"id": "", "ok": false, "err": err.Error()}, nil
		}
		return map[string]any{"id": id, "ok": true}, nil

	case "GetContainerStatus":
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		record, err := s.mgr.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"state": record.State, "pid": record.PID, "exit_code": record.ExitCode,
			"created_at": record.CreatedAt, "ip": record.IPAddress,
			"rootfs": filepath.Join(s.mgr.cfg.WorkspaceRoot, record.ID, "rootfs"),
		}, nil

	case "GetContainerLogs":
		// No container log store exists; this always returns an empty
		// list, and the ICC surface has no log route either.
		return []any{}, nil

	case "StopContainer":
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		if err := s.mgr.StopContainer(ctx, id); err != nil {
			return map[string]any{"ok": false, "err": err.Error()}, nil
		}
		return map[string]any{"ok": true}, nil

	case "RemoveContainer":
		id, err := paramID(params)
		if err != nil {
			return nil, err
		}
		if err := s.mgr.RemoveContainer(ctx, id); err != nil {
			return map[string]any{"ok": false, "err": err.Error()}, nil
		}
		return map[string]any{"ok": true}, nil

	case "ExecContainer":
		var p struct {
			ID      string   `json:"id"`
			Cmd     []string `json:"cmd"`
			Capture bool     `json:"capture"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		res, err := s.mgr.Exec(ctx, p.ID, p.Cmd, p.Capture)
		if err != nil {
			return map[string]any{"ok": false, "err": err.Error()}, nil
		}
		return map[string]any{
			"ok": true, "exit_code": res.ExitCode, "stdout": res.Stdout, "stderr": res.Stderr,
		}, nil

	default:
		return nil, fmt.Errorf("container: ipc: unknown method %q", method)
	}
}

func paramID(params json.RawMessage) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", err
	}
	return p.ID, nil
}

func readFrame(r *bufio.Reader) (rpcRequest, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return rpcRequest{}, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return rpcRequest{}, err
	}
	var req rpcRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		return rpcRequest{}, err
	}
	return req, nil
}

func writeFrame(w io.Writer, resp rpcResponse) error {
	buf, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// IPCClient is a thin wrapper for callers outside the daemon process (the
// CLI, primarily) that speak the same length-prefixed framing.
type IPCClient struct {
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex
	seq  int
}

// DialIPC connects to the lifecycle socket at path (DefaultSocketPath if empty).
func DialIPC(path string) (*IPCClient, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("container: ipc: dial %s: %w", path, err)
	}
	return &IPCClient{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *IPCClient) Close() error { return c.conn.Close() }

// Call issues one request/response round trip, unmarshaling the result
// into out if non-nil.
func (c *IPCClient) Call(method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	c.seq++
	req := rpcRequest{ID: fmt.Sprintf("%d", c.seq), Method: method, Params: paramsJSON}
	buf, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := binary.Write(c.conn, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return err
	}

	var size uint32
	if err := binary.Read(c.r, binary.BigEndian, &size); err != nil {
		return err
	}
	respBuf := make([]byte, size)
	if _, err := io.ReadFull(c.r, respBuf); err != nil {
		return err
	}
	var resp rpcResponse
	if err := json.Unmarshal(respBuf, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("container: ipc: %s", resp.Error)
	}
	if out != nil && resp.Result != nil {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}
