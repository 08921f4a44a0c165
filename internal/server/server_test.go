package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/detect"
)

func TestNew(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cache == nil {
		t.Fatal("New() did not initialize cache")
	}
	if s.store == nil {
		t.Fatal("New() did not initialize store")
	}
	if s.detector == nil || s.detector.Name() != "none" {
		t.Fatalf("default detector: got %v, want none", s.detector)
	}
	if got := s.store.Rules(); got != s.cfg.Rules {
		t.Errorf("store rules: got %+v, want %+v", got, s.cfg.Rules)
	}
}

func TestMCPRequest_Unmarshal(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantID     interface{}
		wantMethod string
	}{
		{
			"string id",
			`{"jsonrpc":"2.0","id":"test-1","method":"tools/list"}`,
			"test-1",
			"tools/list",
		},
		{
			"number id",
			`{"jsonrpc":"2.0","id":42,"method":"ping"}`,
			float64(42), // JSON numbers decode as float64
			"ping",
		},
		{
			"null id",
			`{"jsonrpc":"2.0","id":null,"method":"initialize"}`,
			nil,
			"initialize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MCPRequest
			if err := json.Unmarshal([]byte(tt.json), &req); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}

			if req.ID != tt.wantID {
				t.Errorf("ID: got %v (%T), want %v (%T)", req.ID, req.ID, tt.wantID, tt.wantID)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("Method: got %s, want %s", req.Method, tt.wantMethod)
			}
		})
	}
}

func TestErrorResponse_OmitsEmptyData(t *testing.T) {
	s := New()

	resp := s.errorResponse(1, codeMethodNotFound, "Method not found", "")
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if strings.Contains(string(data), `"data"`) {
		t.Errorf("empty data should be omitted: %s", data)
	}
	if strings.Contains(string(data), `"result"`) {
		t.Errorf("error response should have no result: %s", data)
	}

	resp = s.errorResponse(1, codeToolFailed, "Tool execution failed", "boom")
	if resp.Error.Data != "boom" {
		t.Errorf("Data: got %v, want boom", resp.Error.Data)
	}
}

func TestHandleRequest_Initialize(t *testing.T) {
	s := New(WithVersion("1.2.3"))
	req := &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"}

	resp := s.handleRequest(context.Background(), req)
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	if result["protocolVersion"] != ProtocolVersion {
		t.Errorf("protocolVersion: got %v, want %s", result["protocolVersion"], ProtocolVersion)
	}
	info, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		t.Fatal("serverInfo should be a map")
	}
	if info["name"] != ServerName {
		t.Errorf("serverInfo.name: got %v, want %s", info["name"], ServerName)
	}
	if info["version"] != "1.2.3" {
		t.Errorf("serverInfo.version: got %v, want 1.2.3", info["version"])
	}
}

func TestHandleRequest_Ping(t *testing.T) {
	s := New()
	req := &MCPRequest{JSONRPC: "2.0", ID: "p", Method: "ping"}

	resp := s.handleRequest(context.Background(), req)
	if resp == nil || resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp)
	}
	if resp.ID != "p" {
		t.Errorf("ID: got %v, want p", resp.ID)
	}
}

func TestHandleRequest_ToolsList(t *testing.T) {
	s := New()
	req := &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"}

	resp := s.handleRequest(context.Background(), req)
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	tools, ok := result["tools"].([]Tool)
	if !ok {
		t.Fatal("tools should be a []Tool")
	}
	if len(tools) != len(GetToolDefinitions()) {
		t.Errorf("tools: got %d, want %d", len(tools), len(GetToolDefinitions()))
	}
}

func TestHandleRequest_NotificationsInitialized(t *testing.T) {
	s := New()
	req := &MCPRequest{JSONRPC: "2.0", Method: "notifications/initialized"}

	if resp := s.handleRequest(context.Background(), req); resp != nil {
		t.Errorf("notification should get no response, got %+v", resp)
	}
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	s := New()
	req := &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "unknown/method"}

	resp := s.handleRequest(context.Background(), req)
	if resp.Error == nil {
		t.Fatal("Expected error for unknown method")
	}
	if resp.Error.Code != codeMethodNotFound {
		t.Errorf("Error code: got %d, want %d", resp.Error.Code, codeMethodNotFound)
	}
}

// runLines feeds input lines through Run and returns the decoded responses.
func runLines(t *testing.T, s *Server, lines ...string) []MCPResponse {
	t.Helper()

	var out bytes.Buffer
	s.in = strings.NewReader(strings.Join(lines, "\n") + "\n")
	s.out = &out
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resps []MCPResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r MCPResponse
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad response line %q: %v", sc.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

func TestRun_Session(t *testing.T) {
	s := New()
	resps := runLines(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)

	if len(resps) != 3 {
		t.Fatalf("responses: got %d, want 3", len(resps))
	}
	for i, want := range []float64{1, 2, 3} {
		if resps[i].ID != want {
			t.Errorf("response %d ID: got %v, want %v", i, resps[i].ID, want)
		}
		if resps[i].Error != nil {
			t.Errorf("response %d error: %+v", i, resps[i].Error)
		}
	}
}

func TestRun_ParseError(t *testing.T) {
	s := New()
	resps := runLines(t, s, `{not json`, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)

	if len(resps) != 2 {
		t.Fatalf("responses: got %d, want 2", len(resps))
	}
	if resps[0].Error == nil || resps[0].Error.Code != codeParseError {
		t.Errorf("first response: want parse error, got %+v", resps[0])
	}
	if resps[1].Error != nil {
		t.Errorf("server should keep serving after a parse error: %+v", resps[1].Error)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	s := New(WithIO(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &bytes.Buffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != context.Canceled {
		t.Errorf("Run: got %v, want context.Canceled", err)
	}
}

// blockingDetector holds every Detect call until release is closed.
type blockingDetector struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *blockingDetector) Name() string { return "blocking" }

func (d *blockingDetector) Detect(ctx context.Context, req detect.Request) (*annotation.Batch, error) {
	d.once.Do(func() { close(d.started) })
	select {
	case <-d.release:
		return gelBatch(req.Paths[0]), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRun_DetectDoesNotBlockSession(t *testing.T) {
	d := &blockingDetector{started: make(chan struct{}), release: make(chan struct{})}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s := New(WithDetector(d), WithIO(inR, outW))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	send := func(line string) {
		t.Helper()
		if _, err := io.WriteString(inW, line+"\n"); err != nil {
			t.Fatalf("write request: %v", err)
		}
	}
	dec := json.NewDecoder(outR)
	next := func() MCPResponse {
		t.Helper()
		var r MCPResponse
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return r
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"annotator_detect","arguments":{"paths":["/data/gel.png"]}}}`)
	select {
	case <-d.started:
	case <-time.After(5 * time.Second):
		t.Fatal("detector never started")
	}

	send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"annotator_list_images"}}`)
	if r := next(); r.ID != float64(2) || r.Error != nil {
		t.Fatalf("list during detection: got %+v, want id 2 without error", r)
	}

	send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"annotator_detect","arguments":{"paths":["/data/gel.png"]}}}`)
	r := next()
	if r.ID != float64(3) || r.Error == nil {
		t.Fatalf("second detect: got %+v, want busy error", r)
	}
	if data, _ := r.Error.Data.(string); !strings.Contains(data, "already in progress") {
		t.Errorf("second detect error data: got %v", r.Error.Data)
	}

	close(d.release)
	if r := next(); r.ID != float64(1) || r.Error != nil {
		t.Fatalf("first detect: got %+v, want id 1 without error", r)
	}

	inW.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after EOF")
	}
	if n := s.Store().Len(); n != 1 {
		t.Errorf("session images: got %d, want 1", n)
	}
}
