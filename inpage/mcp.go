package inpage

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/overlay/kit"
)

// RegisterMCP registers the inpage tools on an MCP server.
func (t *Translator) RegisterMCP(srv *mcp.Server) {
	t.registerTranslateTool(srv)
	t.registerBackendsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (t *Translator) registerTranslateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "inpage_translate_html",
		Description: "Translate the visible text of an HTML document in place and return it as html, markdown or text.",
		InputSchema: inputSchema(map[string]any{
			"html":   map[string]any{"type": "string", "description": "HTML document to translate"},
			"format": map[string]any{"type": "string", "enum": []string{FormatHTML, FormatMarkdown, FormatText}, "description": "Output format (default html)"},
		}, []string{"html"}),
	}

	kit.MCPTool[TranslateRequest](srv, tool, t.TranslateEndpoint())
}

func (t *Translator) registerBackendsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "inpage_backends",
		Description: "List the translation backend types this server can use.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"backends": t.Backends(), "active": t.cfg.Backend.Type}, nil
	}
	kit.MCPTool[struct{}](srv, tool, endpoint)
}
