package connmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/gorilla/websocket"
)

// ProxyConnection is the §4.1 contract. The manager only ever observes a
// proxy through the return/throw of connect() and disconnect() — it never
// inspects the frames crossing the wire.
type ProxyConnection interface {
	Connect(ctx context.Context) error
	Disconnect()
	SetToolProvider(provider ToolProvider)
	IsConnected() bool
}

// jsonRPCRequest/jsonRPCResponse are the minimal JSON-RPC 2.0 envelope the
// proxy speaks over the WebSocket session. The manager never sees these
// types; they are internal to wsProxy, per spec.md §1's scope boundary
// ("Parsing of MCP JSON-RPC frames inside an individual proxy connection
// ... is out of scope" for the manager, not for the proxy itself).
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

const (
	methodInitialize = "initialize"
	methodToolsList  = "tools/list"
	methodToolsCall  = "tools/call"
)

// wsProxy is the shipped ProxyConnection: a single gorilla/websocket
// session that performs the MCP "initialize" handshake outbound, then
// answers tools/list requests the upstream sends back down the same socket
// from the installed ToolProvider. tools/call requests are answered with an
// error; no tool is executed.
type wsProxy struct {
	endpoint string
	timeout  time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	provider ToolProvider
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	connected atomic.Bool
	nextID    atomic.Int64
}

// newWSProxy creates an unconnected proxy for endpoint, bounded by timeout
// on every Connect call.
func newWSProxy(endpoint string, timeout time.Duration) *wsProxy {
	return &wsProxy{endpoint: endpoint, timeout: timeout}
}

// SetToolProvider installs or replaces the tool-service provider. Safe to
// call before or after Connect (spec.md §4.1).
func (p *wsProxy) SetToolProvider(provider ToolProvider) {
	p.mu.Lock()
	p.provider = provider
	p.mu.Unlock()
}

// IsConnected is a liveness snapshot, checked lazily — the manager never
// polls it on a timer (spec.md §3 invariant).
func (p *wsProxy) IsConnected() bool {
	return p.connected.Load()
}

// Connect dials the endpoint, performs the MCP initialize exchange, and
// starts the background dispatch loop that answers upstream tool requests.
// Bounded by p.timeout; any failure along the way is returned verbatim as
// the "opaque failure" spec.md §4.1 says the manager records in lastError.
func (p *wsProxy) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: p.timeout,
	}
	conn, _, err := dialer.DialContext(dialCtx, p.endpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.endpoint, err)
	}

	if err := p.handshake(dialCtx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("initialize %s: %w", p.endpoint, err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.conn = conn
	p.cancel = runCancel
	p.mu.Unlock()

	p.connected.Store(true)

	p.wg.Add(1)
	go p.serve(runCtx, conn)

	return nil
}

// handshake performs the single initialize request/response round trip
// before the connection is considered usable, reusing the mcp-go wire
// types for the payload shape exactly as the teacher's stdio/SSE client
// does (internal/mcp/client.go), now framed by hand over a WebSocket
// message instead of the SDK's own stdio/SSE transport.
func (p *wsProxy) handshake(ctx context.Context, conn *websocket.Conn) error {
	params := sdk_mcp.InitializeParams{
		ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo: sdk_mcp.Implementation{
			Name:    "mcp-gateway",
			Version: "0.1.0",
		},
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	id := p.nextID.Add(1)
	req := jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: methodInitialize, Params: raw}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write initialize: %w", err)
	}

	var resp jsonRPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read initialize response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("server rejected initialize: %s", resp.Error.Message)
	}
	return nil
}

// serve answers upstream tools/list and tools/call requests until the
// connection drops or Disconnect cancels runCtx. It never terminates the
// manager's reconnect flow on its own — that decision belongs entirely to
// the Lifecycle Controller, which only ever learns about failure through
// connect()'s return value on the next attempt.
func (p *wsProxy) serve(ctx context.Context, conn *websocket.Conn) {
	defer p.wg.Done()
	defer p.connected.Store(false)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var req jsonRPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		p.handleRequest(conn, req)
	}
}

func (p *wsProxy) handleRequest(conn *websocket.Conn, req jsonRPCRequest) {
	switch req.Method {
	case methodToolsList:
		p.replyToolsList(conn, req.ID)
	case methodToolsCall:
		p.replyToolsCall(conn, req)
	default:
		p.replyError(conn, req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (p *wsProxy) replyToolsList(conn *websocket.Conn, id int64) {
	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()

	if provider == nil {
		p.reply(conn, id, map[string]any{"tools": []sdk_mcp.Tool{}})
		return
	}
	tools, err := provider.ListTools()
	if err != nil {
		p.replyError(conn, id, -32000, err.Error())
		return
	}
	sdkTools := make([]sdk_mcp.Tool, 0, len(tools))
	for _, t := range tools {
		sdkTools = append(sdkTools, sdk_mcp.Tool{Name: t.Name, Description: t.Description})
	}
	p.reply(conn, id, map[string]any{"tools": sdkTools})
}

func (p *wsProxy) replyToolsCall(conn *websocket.Conn, req jsonRPCRequest) {
	var params sdk_mcp.CallToolRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params.Params); err != nil {
			p.replyError(conn, req.ID, -32602, "invalid params: "+err.Error())
			return
		}
	}

	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()

	if provider == nil {
		p.replyError(conn, req.ID, -32000, "no tool provider installed")
		return
	}
	// The ToolProvider boundary only exposes the catalogue (spec.md §6); it
	// does not execute tools, so every tools/call request is answered with
	// an error naming the requested tool.
	p.replyError(conn, req.ID, -32000, fmt.Sprintf("tool %q not executable via this gateway", params.Params.Name))
}

func (p *wsProxy) reply(conn *websocket.Conn, id int64, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		p.replyError(conn, id, -32000, err.Error())
		return
	}
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
	_ = conn.WriteJSON(resp)
}

func (p *wsProxy) replyError(conn *websocket.Conn, id int64, code int, msg string) {
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: &jsonRPCError{Code: code, Message: msg}}
	_ = conn.WriteJSON(resp)
}

// Disconnect is synchronous, idempotent, and never fails observably
// (spec.md §4.1): it closes the socket, cancels the dispatch loop, and
// waits for it to exit before returning.
func (p *wsProxy) Disconnect() {
	p.mu.Lock()
	conn := p.conn
	cancel := p.cancel
	p.conn = nil
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	p.wg.Wait()
	p.connected.Store(false)
}
