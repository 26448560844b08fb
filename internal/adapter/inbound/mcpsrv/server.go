package mcpsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/aeshef/finam-ai-chat/internal/usecase"
)

// RecentAuditor exposes the most recent audit records for inspection.
type RecentAuditor interface {
	Recent(n int) []usecase.AuditRecord
}

// Server registers the trading assistant tool surface on an mcp-go server.
type Server struct {
	pipeline *usecase.Pipeline
	auditor  RecentAuditor
	logger   *slog.Logger
}

func New(pipeline *usecase.Pipeline, auditor RecentAuditor, logger *slog.Logger) *Server {
	return &Server{
		pipeline: pipeline,
		auditor:  auditor,
		logger:   logger.With("component", "mcp_server"),
	}
}

// Register adds the ask, confirm and audit_recent tools to the MCP server.
func (s *Server) Register(srv *mcpGoServer.MCPServer) {
	askTool := mcp.NewTool("ask",
		mcp.WithDescription("Answer a natural-language trading question by resolving and executing the matching API call. Mutating actions return a confirmation card instead of executing."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question, in Russian or English.")),
		mcp.WithString("dry_run", mcp.Description("Set to 'true' to stop after resolution and return the method and path without executing.")),
	)
	srv.AddTool(askTool, s.handleAsk)

	confirmTool := mcp.NewTool("confirm",
		mcp.WithDescription("Confirm or reject a previously issued confirmation card."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Token from the confirmation card.")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("Either 'confirm' or 'reject'.")),
	)
	srv.AddTool(confirmTool, s.handleConfirm)

	auditTool := mcp.NewTool("audit_recent",
		mcp.WithDescription("Return the most recent audit records."),
		mcp.WithString("limit", mcp.Description("Maximum number of records to return, default 20.")),
	)
	srv.AddTool(auditTool, s.handleAuditRecent)

	s.logger.Info("tools registered", slog.Int("count", 3))
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dryRun := req.GetString("dry_run", "") == "true"

	s.logger.Info("ask", slog.String("question", question), slog.Bool("dry_run", dryRun))
	outcome := s.pipeline.Ask(ctx, question, dryRun)
	return outcomeResult(outcome)
}

func (s *Server) handleConfirm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("confirm", slog.String("token", token), slog.String("decision", decision))
	outcome := s.pipeline.Confirm(ctx, token, decision)
	return outcomeResult(outcome)
}

func (s *Server) handleAuditRecent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 20
	if raw := req.GetString("limit", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid limit %q", raw)), nil
		}
		limit = n
	}
	if s.auditor == nil {
		return mcp.NewToolResultText("[]"), nil
	}
	records := s.auditor.Recent(limit)
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding audit records: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// outcomeResult serializes a pipeline outcome as a JSON tool result. Denied
// and unresolved outcomes are still successful tool calls: the client needs
// the structured payload, not a protocol error.
func outcomeResult(outcome usecase.Outcome) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding outcome: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
