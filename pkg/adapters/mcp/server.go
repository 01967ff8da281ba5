package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/redliner"
	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/review"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// Service defines the review operations exposed as MCP tools.
type Service interface {
	Run(ctx context.Context, id string) (*domain.Session, error)
	Rewind(ctx context.Context, id string, stage domain.Stage) (*domain.Session, error)
	Status(ctx context.Context, id string) (*review.StatusView, error)
	Results(ctx context.Context, id string) (domain.StageResults, error)
	Audit(ctx context.Context, id string) (*domain.AuditBundle, error)
	AuditMarkdown(ctx context.Context, id string) (string, error)
	History(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)
	Delete(ctx context.Context, id string) error
}

// Server wraps the review service and exposes it as an MCP Server.
type Server struct {
	svc       Service
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		svc:       svc,
		mcpServer: server.NewMCPServer("redliner-mcp", strings.TrimSpace(redliner.Version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	sessionArg := mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID returned on upload"))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List a user's review sessions, newest first."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the sessions")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20)")),
	), s.handleListSessions)

	s.mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get the status of a session and the next stage to run."),
		sessionArg,
		mcp.WithOutputSchema[review.StatusView](),
	), mcp.NewStructuredToolHandler(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("get_results",
		mcp.WithDescription("Get the committed stage results: clauses, risks, redlines, summary and audit."),
		sessionArg,
	), s.handleResults)

	s.mcpServer.AddTool(mcp.NewTool("get_audit",
		mcp.WithDescription("Compile the audit bundle of a finished session."),
		sessionArg,
		mcp.WithString("format", mcp.Enum("json", "markdown"), mcp.Description("Output format (default json)")),
	), s.handleAudit)

	s.mcpServer.AddTool(mcp.NewTool("run_session",
		mcp.WithDescription("Run or resume the review pipeline of a session."),
		sessionArg,
	), s.handleRun)

	s.mcpServer.AddTool(mcp.NewTool("rewind_session",
		mcp.WithDescription("Discard the results of a stage and every later stage so they run again."),
		sessionArg,
		mcp.WithString("stage", mcp.Required(), mcp.Enum(stageNames()...), mcp.Description("First stage to discard")),
	), s.handleRewind)

	s.mcpServer.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a session and its document."),
		sessionArg,
	), s.handleDelete)
}

func stageNames() []string {
	var out []string
	for _, st := range domain.Pipeline() {
		out = append(out, string(st))
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := request.GetInt("limit", 20)
	list, err := s.svc.History(ctx, userID, limit)
	if err != nil {
		return errorResult("list", err), nil
	}
	if list == nil {
		list = []domain.SessionSummary{}
	}
	return jsonResult(list)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (review.StatusView, error) {
	id, _ := args["session_id"].(string)
	v, err := s.svc.Status(ctx, id)
	if err != nil {
		return review.StatusView{}, fmt.Errorf("status failed: %w", err)
	}
	return *v, nil
}

func (s *Server) handleResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Results(ctx, id)
	if err != nil {
		return errorResult("results", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if request.GetString("format", "json") == "markdown" {
		md, err := s.svc.AuditMarkdown(ctx, id)
		if err != nil {
			return errorResult("audit", err), nil
		}
		return mcp.NewToolResultText(md), nil
	}
	b, err := s.svc.Audit(ctx, id)
	if err != nil {
		return errorResult("audit", err), nil
	}
	return jsonResult(b)
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.svc.Run(ctx, id)
	if err != nil {
		return errorResult("run", err), nil
	}
	s.logger.Info("MCP run requested", "session_id", id, "status", sess.Status)
	return jsonResult(map[string]any{"session_id": sess.ID, "status": sess.Status, "stage_cursor": sess.StageCursor})
}

func (s *Server) handleRewind(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := request.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stage, err := domain.ParseStage(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.svc.Rewind(ctx, id, stage)
	if err != nil {
		return errorResult("rewind", err), nil
	}
	return jsonResult(map[string]any{"session_id": sess.ID, "status": sess.Status, "stage_cursor": sess.StageCursor})
}

func (s *Server) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Delete(ctx, id); err != nil {
		return errorResult("delete", err), nil
	}
	return mcp.NewToolResultText("deleted " + id), nil
}

func (s *Server) registerResources() {
	// EXPOSE: redliner://pipeline
	s.mcpServer.AddResource(mcp.NewResource("redliner://pipeline", "Pipeline Stages",
		mcp.WithResourceDescription("Ordered stages and whether each is mandatory."),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type stageInfo struct {
			Stage     domain.Stage `json:"stage"`
			Mandatory bool         `json:"mandatory"`
		}
		var stages []stageInfo
		for _, st := range domain.Pipeline() {
			stages = append(stages, stageInfo{Stage: st, Mandatory: st.Mandatory()})
		}
		jsonBytes, _ := json.Marshal(stages)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "redliner://pipeline",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
