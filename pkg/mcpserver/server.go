// Package mcpserver exposes the assistant's tools and conversation over the
// Model Context Protocol so other AI clients can call them.
package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/agent/llm"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/session"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/tools"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/version"
)

// ToolAssistantChat is the MCP tool that talks to the assistant itself.
const ToolAssistantChat = "assistant_chat"

// Server wires the tool registry and session manager into an MCP server.
type Server struct {
	registry *tools.Registry
	sessions *session.Manager
	logger   *logx.Logger
}

// New creates the server. A nil sessions manager leaves assistant_chat out.
func New(registry *tools.Registry, sessions *session.Manager) *Server {
	return &Server{
		registry: registry,
		sessions: sessions,
		logger:   logx.NewLogger("mcp"),
	}
}

// MCPServer builds the mcp-go server with every tool registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(
		"codeassist",
		version.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Delegates programming tasks to a senior engineer and QA engineer crew. "+
			"Call coding_tool with complete requirements, or hold a conversation with assistant_chat."),
	)

	for _, def := range s.registry.Definitions() {
		srv.AddTool(toMCPTool(def), s.toolHandler(def.Name))
	}
	if s.sessions != nil {
		srv.AddTool(chatTool(), s.handleChat)
	}
	return srv
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("Serving MCP over stdio")
	if err := server.ServeStdio(s.MCPServer()); err != nil {
		return fmt.Errorf("mcp stdio server failed: %w", err)
	}
	return nil
}

// toMCPTool maps a model-facing definition onto the MCP schema. Only string
// properties are used by the registry.
func toMCPTool(def llm.ToolDefinition) mcp.Tool {
	required := make(map[string]bool, len(def.InputSchema.Required))
	for _, name := range def.InputSchema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(def.InputSchema.Properties))
	for name := range def.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	for _, name := range names {
		prop := def.InputSchema.Properties[name]
		propOpts := []mcp.PropertyOption{mcp.Description(prop.Description)}
		if required[name] {
			propOpts = append(propOpts, mcp.Required())
		}
		if len(prop.Enum) > 0 {
			propOpts = append(propOpts, mcp.Enum(prop.Enum...))
		}
		opts = append(opts, mcp.WithString(name, propOpts...))
	}
	return mcp.NewTool(def.Name, opts...)
}

func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := llm.ToolCall{
			ID:         "mcp_" + uuid.New().String(),
			Name:       name,
			Parameters: req.GetArguments(),
		}
		s.logger.Info("🛠  MCP call %s (%s)", name, call.ID)
		out, err := s.registry.Execute(ctx, call)
		if err != nil {
			s.logger.Warn("MCP call %s failed: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func chatTool() mcp.Tool {
	return mcp.NewTool(ToolAssistantChat,
		mcp.WithDescription("Send a message to the lead engineer assistant. It asks clarifying questions "+
			"one at a time and writes the program once the requirements are clear. Pass the returned "+
			"session_id to continue the same conversation."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The message to send"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation to continue; omit to start a new one"),
		),
	)
}

func (s *Server) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if strings.TrimSpace(message) == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}

	id := req.GetString("session_id", "")
	if id == "" {
		id = s.sessions.Create().ID
	}

	reply, err := s.sessions.Send(ctx, id, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session %s: %v", id, err)), nil
	}

	var b strings.Builder
	b.WriteString(reply.Answer)
	fmt.Fprintf(&b, "\n\nsession_id: %s", id)
	return mcp.NewToolResultText(b.String()), nil
}
