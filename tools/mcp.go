// ABOUTME: MCP server integration (§5/§9) -- launches an external MCP server
// ABOUTME: process over stdio and registers each tool it exposes under the
// ABOUTME: mcp_ prefix the Tool Pipeline already auto-allows.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/toolpipeline"
)

// MCPServerConfig names one external MCP server to launch and connect to,
// analogous to a workspace's .relay/mcp.json entry (§9).
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
}

// ConnectMCPServer starts cfg's process and performs the MCP handshake over
// stdio, returning a live client session the caller owns and must Close.
func ConnectMCPServer(ctx context.Context, cfg MCPServerConfig) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "relay", Version: "0.1.0"}, nil)
	transport := &mcp.CommandTransport{Command: exec.Command(cfg.Command, cfg.Args...)}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", cfg.Name, err)
	}
	return session, nil
}

// mcpTool adapts one tool exposed by a connected MCP server into the Tool
// Pipeline's Tool interface. Every call it needs permissions for by default:
// relay has no way to know an arbitrary remote tool's side effects.
type mcpTool struct {
	session     *mcp.ClientSession
	remoteName  string
	name        string
	description string
	schema      json.RawMessage
}

func (t *mcpTool) Definition() llm.ToolDefinition {
	schema := t.schema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return llm.ToolDefinition{Name: t.name, Description: t.description, Parameters: schema}
}

func (t *mcpTool) ValidateInput(map[string]any) error    { return nil }
func (t *mcpTool) IsConcurrencySafe(map[string]any) bool  { return false }
func (t *mcpTool) IsReadOnly() bool                       { return false }
func (t *mcpTool) NeedsPermissions(map[string]any) bool   { return true }
func (t *mcpTool) ShouldEndTurn(map[string]any) bool      { return false }

func (t *mcpTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	res, err := t.session.CallTool(ctxBackground(ctx), &mcp.CallToolParams{
		Name:      t.remoteName,
		Arguments: args,
	})
	if err != nil {
		return toolpipeline.Result{}, fmt.Errorf("mcp tool %s: %w", t.name, err)
	}

	var out strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out.WriteString(tc.Text)
		}
	}
	return toolpipeline.Result{Output: out.String(), IsError: res.IsError}, nil
}

// ctxBackground exists solely because ExecContext (§toolpipeline) carries no
// context.Context of its own; callers that need cancellation wire it through
// Env instead. MCP calls made from within a dialog turn are short commands
// issued by the server process, not long-running work, so a background
// context is an acceptable default here.
func ctxBackground(toolpipeline.ExecContext) context.Context { return context.Background() }

// RegisterMCPServer connects to cfg, lists its tools, and registers each one
// in registry under the mcp_<tool> name so toolpipeline's existing mcp_
// prefix convention auto-allows it with no further wiring (§5, §9).
func RegisterMCPServer(ctx context.Context, registry *toolpipeline.Registry, cfg MCPServerConfig) error {
	session, err := ConnectMCPServer(ctx, cfg)
	if err != nil {
		return err
	}

	listing, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools on mcp server %s: %w", cfg.Name, err)
	}

	for _, remote := range listing.Tools {
		var schema json.RawMessage
		if remote.InputSchema != nil {
			if b, err := json.Marshal(remote.InputSchema); err == nil {
				schema = b
			}
		}
		t := &mcpTool{
			session:     session,
			remoteName:  remote.Name,
			name:        "mcp_" + remote.Name,
			description: remote.Description,
			schema:      schema,
		}
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register mcp tool %s: %w", t.name, err)
		}
	}
	return nil
}
