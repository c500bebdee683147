package inpage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func post(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/translate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandler_Translate(t *testing.T) {
	tr := newTranslator(t, testConfig("upper"))
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	body, _ := json.Marshal(TranslateRequest{HTML: page, Format: FormatText})
	resp, out := post(t, srv, string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d (%v)", resp.StatusCode, out)
	}
	if out["output"] != "GREETING\nHELLO WORLD\nSECOND BLOCK" {
		t.Errorf("output: got %q", out["output"])
	}
	if out["format"] != FormatText || out["settled"] != true {
		t.Errorf("response: got %v", out)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestHandler_Errors(t *testing.T) {
	cfg := testConfig("echo")
	cfg.Server.MaxBodyBytes = 256
	tr := newTranslator(t, cfg)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"html":`, http.StatusBadRequest},
		{"empty html", `{"html":""}`, http.StatusBadRequest},
		{"bad format", `{"html":"<p>x</p>","format":"pdf"}`, http.StatusBadRequest},
		{"too large", `{"html":"` + strings.Repeat("x", 512) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, c := range cases {
		resp, out := post(t, srv, c.body)
		if resp.StatusCode != c.want {
			t.Errorf("%s: got %d, want %d (%v)", c.name, resp.StatusCode, c.want, out)
		}
		if out["error"] == nil {
			t.Errorf("%s: missing error field", c.name)
		}
	}
}

func TestHandler_HealthAndBackends(t *testing.T) {
	tr := newTranslator(t, testConfig("echo"))
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/backends")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Backends []string `json:"backends"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	joined := strings.Join(out.Backends, ",")
	for _, want := range []string{"echo", "http", "upper", "websocket"} {
		if !strings.Contains(joined, want) {
			t.Errorf("backends %v missing %s", out.Backends, want)
		}
	}
}

var testMCPImpl = &mcp.Implementation{Name: "inpage-test", Version: "0.1.0"}

func mcpSession(t *testing.T, tr *Translator) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	tr.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func TestMCP_TranslateHTML(t *testing.T) {
	session := mcpSession(t, newTranslator(t, testConfig("upper")))

	res := mcpCallTool(t, session, "inpage_translate_html", map[string]any{
		"html":   `<body><p>from mcp</p></body>`,
		"format": FormatMarkdown,
	})
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	var out TranslateResponse
	if err := json.NewDecoder(bytes.NewReader([]byte(res.Content[0].(*mcp.TextContent).Text))).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Output != "FROM MCP" || out.Summary.Committed != 1 {
		t.Errorf("response: got %+v", out)
	}
}

func TestMCP_TranslateHTML_Empty(t *testing.T) {
	session := mcpSession(t, newTranslator(t, testConfig("echo")))

	res := mcpCallTool(t, session, "inpage_translate_html", map[string]any{"html": ""})
	if !res.IsError {
		t.Error("empty document should be a tool error")
	}
}

func TestMCP_Backends(t *testing.T) {
	session := mcpSession(t, newTranslator(t, testConfig("upper")))

	res := mcpCallTool(t, session, "inpage_backends", map[string]any{})
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, `"active":"upper"`) {
		t.Errorf("got %s", text)
	}
}
