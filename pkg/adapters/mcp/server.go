package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/pkg/api"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "agentrun"

// Resource URIs.
const (
	StateResourceURI = "agentrun://state"
	TraceResourceURI = "agentrun://trace"
)

// Server exposes the operation surface as MCP tools.
type Server struct {
	service   *api.Service
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. In stdio mode it must not write to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(service *api.Service, version string, opts ...Option) *Server {
	s := &Server{
		service:   service,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server, for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func sessionParam() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Description("Session to act on. Defaults to the session opened by agent_init."))
}

func (s *Server) registerTools() {
	s.add(mcp.NewTool(api.OpAgentInit,
		mcp.WithDescription("Open or resume an execution session for an agent directory. Call this before any other tool."),
		mcp.WithString("agent_path", mcp.Required(), mcp.Description("Absolute path to the agent directory")),
		mcp.WithString("session_id", mcp.Description("Existing session to resume. A new one is created when omitted.")),
	))

	s.add(mcp.NewTool(api.OpNodeEnter,
		mcp.WithDescription("Enter a node. Returns its instructions, or iteration_limit_reached when the node is exhausted."),
		sessionParam(),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node ID to enter")),
		mcp.WithString("reason", mcp.Description("Why this node is entered")),
		mcp.WithObject("input_data", mcp.Description("Data from the incoming edge")),
	))

	s.add(mcp.NewTool(api.OpNodeComplete,
		mcp.WithDescription("Record the output of a completed node."),
		sessionParam(),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Completed node ID")),
		mcp.WithObject("output_data", mcp.Required(), mcp.Description("Node output data")),
	))

	s.add(mcp.NewTool(api.OpRouteDecision,
		mcp.WithDescription("Record which node comes next and why."),
		sessionParam(),
		mcp.WithString("from_node", mcp.Required()),
		mcp.WithString("to_node", mcp.Required()),
		mcp.WithString("condition", mcp.Description("Condition that was met")),
		mcp.WithString("rationale", mcp.Required(), mcp.Description("Why this route was chosen")),
		mcp.WithObject("data_to_pass", mcp.Description("Fields handed to the next node")),
	))

	s.add(mcp.NewTool(api.OpGetExecutionState,
		mcp.WithDescription("Get the current execution state."),
		sessionParam(),
	))

	s.add(mcp.NewTool(api.OpSetSharedContext,
		mcp.WithDescription("Store a value on the shared blackboard."),
		sessionParam(),
		mcp.WithString("key", mcp.Required()),
		mcp.WithAny("value", mcp.Required()),
	))

	s.add(mcp.NewTool(api.OpGetSharedContext,
		mcp.WithDescription("Read a value from the shared blackboard."),
		sessionParam(),
		mcp.WithString("key", mcp.Required()),
	))

	s.add(mcp.NewTool(api.OpRequestHumanInput,
		mcp.WithDescription("Pause execution and ask the human a question."),
		sessionParam(),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("What to ask the human")),
		mcp.WithArray("options", mcp.WithStringItems(), mcp.Description("Predefined options")),
	))

	s.add(mcp.NewTool(api.OpSpawnSubagent,
		mcp.WithDescription("Load the system prompt of a sub-agent to run inline."),
		sessionParam(),
		mcp.WithString("agent_path", mcp.Required(), mcp.Description("Path to the sub-agent directory")),
		mcp.WithObject("input_data", mcp.Required(), mcp.Description("Input data for the sub-agent")),
	))

	s.add(mcp.NewTool(api.OpCompleteExecution,
		mcp.WithDescription("Finish the execution and return statistics."),
		sessionParam(),
		mcp.WithObject("final_output", mcp.Required(), mcp.Description("Final agent output")),
		mcp.WithString("status", mcp.Required(), mcp.Enum("success", "partial", "error")),
		mcp.WithString("summary"),
	))

	s.add(mcp.NewTool(api.OpGetExecutionTrace,
		mcp.WithDescription("Get the full execution history."),
		sessionParam(),
	))
}

func (s *Server) add(tool mcp.Tool) {
	s.mcpServer.AddTool(tool, s.handle(tool.Name))
}

// handle adapts a service operation to a tool handler. Operation errors are
// returned as tool errors so the calling agent can read and recover from them.
func (s *Server) handle(op string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.service.Call(ctx, op, request.GetArguments())
		if err != nil {
			s.logger.Warn("Tool call failed", "tool", op, "err", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s result: %w", op, err)
		}
		return mcp.NewToolResultStructured(res, string(text)), nil
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StateResourceURI, "Current Execution State",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		state, err := s.service.GetState(ctx, api.SessionRequest{})
		if err != nil {
			return nil, fmt.Errorf("failed to read state: %w", err)
		}
		return jsonResource(StateResourceURI, state)
	})

	s.mcpServer.AddResource(mcp.NewResource(TraceResourceURI, "Current Execution Trace",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		trace, err := s.service.GetTrace(ctx, api.SessionRequest{})
		if err != nil {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}
		return jsonResource(TraceResourceURI, trace)
	})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
