package mcp

import (
	"bytes"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/paths"
	"github.com/zhubert/tether/registry"
)

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "tether-test-home")
	if err != nil {
		os.Exit(1)
	}
	os.Setenv("HOME", tmp)
	os.Unsetenv("XDG_CONFIG_HOME")
	os.Unsetenv("XDG_DATA_HOME")
	os.Unsetenv("XDG_STATE_HOME")
	paths.Reset()
	logger.Reset()

	code := m.Run()

	logger.Close()
	os.RemoveAll(tmp)
	os.Exit(code)
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// runServer feeds the requests through a server backed by a fresh registry
// and returns the responses in order.
func runServer(t *testing.T, requests ...string) []testResponse {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	reg := registry.New("/bin/sh", 2*time.Second)
	t.Cleanup(reg.CloseAll)

	input := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var output bytes.Buffer

	server := NewServer(input, &output, reg, 30000)
	if err := server.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var responses []testResponse
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var resp testResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

// toolPayload unwraps the JSON text payload from a tool call response.
func toolPayload(t *testing.T, resp testResponse) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("bad tool result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return payload
}

func callTool(name string, id int, args map[string]any) string {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	}
	data, _ := json.Marshal(req)
	return string(data)
}

func TestInitialize(t *testing.T) {
	responses := runServer(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)

	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	var result InitializeResult
	if err := json.Unmarshal(responses[0].Result, &result); err != nil {
		t.Fatalf("bad result: %v", err)
	}
	if result.ServerInfo.Name != ServerName {
		t.Errorf("server name = %q, want %q", result.ServerInfo.Name, ServerName)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if result.Capabilities.Tools == nil {
		t.Error("tools capability not advertised")
	}
}

func TestInitializedNotificationSilent(t *testing.T) {
	responses := runServer(t,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)

	// Only the tools/list response; the notification produces nothing.
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
}

func TestToolsList(t *testing.T) {
	responses := runServer(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	var result ToolsListResult
	if err := json.Unmarshal(responses[0].Result, &result); err != nil {
		t.Fatalf("bad result: %v", err)
	}

	want := map[string]bool{
		"tether_spawn": false,
		"tether_exec":  false,
		"tether_list":  false,
		"tether_close": false,
	}
	for _, tool := range result.Tools {
		if _, ok := want[tool.Name]; !ok {
			t.Errorf("unexpected tool %q", tool.Name)
			continue
		}
		want[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %q has no description", tool.Name)
		}
		if tool.InputSchema.Type != "object" {
			t.Errorf("tool %q schema type = %q", tool.Name, tool.InputSchema.Type)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not listed", name)
		}
	}
}

func TestSpawnExecClose(t *testing.T) {
	responses := runServer(t,
		callTool("tether_spawn", 1, map[string]any{"session_id": "shell-mcp001"}),
		callTool("tether_exec", 2, map[string]any{"session_id": "shell-mcp001", "command": "echo via-mcp"}),
		callTool("tether_list", 3, nil),
		callTool("tether_close", 4, map[string]any{"session_id": "shell-mcp001"}),
		callTool("tether_list", 5, nil),
	)

	if len(responses) != 5 {
		t.Fatalf("got %d responses, want 5", len(responses))
	}

	spawn := toolPayload(t, responses[0])
	if spawn["status"] != "spawned" {
		t.Fatalf("spawn payload: %+v", spawn)
	}
	if spawn["session_id"] != "shell-mcp001" {
		t.Errorf("session_id = %v", spawn["session_id"])
	}
	if pid, ok := spawn["pid"].(float64); !ok || pid <= 0 {
		t.Errorf("pid = %v", spawn["pid"])
	}
	if alive, _ := spawn["alive"].(bool); !alive {
		t.Errorf("alive = %v", spawn["alive"])
	}

	exec := toolPayload(t, responses[1])
	if exec["status"] != "ok" {
		t.Fatalf("exec payload: %+v", exec)
	}
	if exec["output"] != "via-mcp" {
		t.Errorf("output = %v", exec["output"])
	}
	if code, ok := exec["exit_code"].(float64); !ok || code != 0 {
		t.Errorf("exit_code = %v", exec["exit_code"])
	}

	list := toolPayload(t, responses[2])
	if list["total"] != float64(1) {
		t.Errorf("total = %v, want 1", list["total"])
	}

	closed := toolPayload(t, responses[3])
	if closed["status"] != "closed" {
		t.Errorf("close payload: %+v", closed)
	}
	if closed["commands_executed"] != float64(1) {
		t.Errorf("commands_executed = %v, want 1", closed["commands_executed"])
	}

	emptied := toolPayload(t, responses[4])
	if emptied["total"] != float64(0) {
		t.Errorf("total after close = %v, want 0", emptied["total"])
	}
}

func TestExecTimeoutPayload(t *testing.T) {
	responses := runServer(t,
		callTool("tether_spawn", 1, map[string]any{"session_id": "shell-mcp002"}),
		callTool("tether_exec", 2, map[string]any{
			"session_id": "shell-mcp002",
			"command":    "echo early; sleep 5",
			"timeout_ms": 300,
		}),
	)

	exec := toolPayload(t, responses[1])
	if exec["status"] != "timeout" {
		t.Fatalf("status = %v, want timeout", exec["status"])
	}
	if !strings.Contains(exec["output"].(string), "early") {
		t.Errorf("output = %v, want partial output", exec["output"])
	}
	if exec["timeout_ms"] != float64(300) {
		t.Errorf("timeout_ms = %v, want 300", exec["timeout_ms"])
	}
	if _, has := exec["exit_code"]; has {
		t.Errorf("exit_code present on timeout: %v", exec["exit_code"])
	}
}

// An empty command is not a protocol error: it runs the full handshake and
// reports the no-op's exit status.
func TestExecEmptyCommand(t *testing.T) {
	responses := runServer(t,
		callTool("tether_spawn", 1, map[string]any{"session_id": "shell-mcp005"}),
		callTool("tether_exec", 2, map[string]any{"session_id": "shell-mcp005", "command": ""}),
	)

	exec := toolPayload(t, responses[1])
	if exec["status"] != "ok" {
		t.Fatalf("status = %v, want ok", exec["status"])
	}
	if code, ok := exec["exit_code"].(float64); !ok || code != 0 {
		t.Errorf("exit_code = %v, want 0", exec["exit_code"])
	}
	if out, _ := exec["output"].(string); out != "" {
		t.Errorf("output = %q, want empty", out)
	}
}

func TestExecOnDeadSessionPrunes(t *testing.T) {
	responses := runServer(t,
		callTool("tether_spawn", 1, map[string]any{"session_id": "shell-mcp004"}),
		callTool("tether_exec", 2, map[string]any{"session_id": "shell-mcp004", "command": "exit 0"}),
		callTool("tether_exec", 3, map[string]any{"session_id": "shell-mcp004", "command": "echo hi"}),
		callTool("tether_list", 4, nil),
	)

	died := toolPayload(t, responses[2])
	if died["status"] != "error" {
		t.Fatalf("status = %v, want error", died["status"])
	}
	if msg, _ := died["error"].(string); !strings.Contains(msg, "died") {
		t.Errorf("error = %q, want death notice", msg)
	}

	list := toolPayload(t, responses[3])
	if list["total"] != float64(0) {
		t.Errorf("total = %v after death, want 0", list["total"])
	}
}

func TestToolLevelErrors(t *testing.T) {
	responses := runServer(t,
		callTool("tether_exec", 1, map[string]any{"session_id": "shell-none", "command": "echo hi"}),
		callTool("tether_close", 2, map[string]any{"session_id": "shell-none"}),
		callTool("tether_spawn", 3, map[string]any{"session_id": "shell-mcp003"}),
		callTool("tether_spawn", 4, map[string]any{"session_id": "shell-mcp003"}),
	)

	for i, idx := range []int{0, 1, 3} {
		payload := toolPayload(t, responses[idx])
		if payload["status"] != "error" {
			t.Errorf("case %d status = %v, want error", i, payload["status"])
		}
		if msg, _ := payload["error"].(string); msg == "" {
			t.Errorf("case %d has empty error message", i)
		}
	}
}

func TestProtocolErrors(t *testing.T) {
	responses := runServer(t,
		`this is not json`,
		`{"jsonrpc":"2.0","id":2,"method":"no/such/method"}`,
		callTool("no_such_tool", 3, nil),
		callTool("tether_exec", 4, map[string]any{"session_id": "shell-x"}),
	)

	if len(responses) != 4 {
		t.Fatalf("got %d responses, want 4", len(responses))
	}
	wantCodes := []int{-32700, -32601, -32602, -32602}
	for i, code := range wantCodes {
		if responses[i].Error == nil {
			t.Errorf("response %d has no error, want code %d", i, code)
			continue
		}
		if responses[i].Error.Code != code {
			t.Errorf("response %d code = %d, want %d", i, responses[i].Error.Code, code)
		}
	}
}
