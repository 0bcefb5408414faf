// Package mcp implements the Model Context Protocol surface for Verity.
//
// MCP-compatible agents submit content for fact-checking and poll for the
// finished analysis. Submission is asynchronous: submit_analysis enqueues a
// job and returns the analysis ID; get_analysis reports the current status
// and, once COMPLETED, the full result.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/queue"
	"github.com/verity-ai/verity/internal/storage"
)

// Server wraps the MCP server with Verity's storage and queue.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	queue     *queue.Queue
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(db *storage.DB, q *queue.Queue, version string, logger *slog.Logger) *Server {
	s := &Server{
		db:     db,
		queue:  q,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"verity",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// verity://analyses/recent — most recent analyses and their statuses.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"verity://analyses/recent",
			"Recent Analyses",
			mcplib.WithResourceDescription("Most recent fact-check analyses with status and verdict"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAnalysesRecent,
	)
}

func (s *Server) registerTools() {
	// submit_analysis — enqueue a fact-check.
	s.mcpServer.AddTool(
		mcplib.NewTool("submit_analysis",
			mcplib.WithDescription("Submit content for fact-checking. Returns an analysis ID to poll with get_analysis."),
			mcplib.WithString("media_type", mcplib.Description("Kind of content, e.g. social_post, article, image"), mcplib.Required()),
			mcplib.WithString("text", mcplib.Description("Text to analyze; may be a bare URL")),
			mcplib.WithString("content_uri", mcplib.Description("URL of the content to analyze")),
			mcplib.WithString("topic_hint", mcplib.Description("Optional topic prior, e.g. health or politics")),
		),
		s.handleSubmit,
	)

	// get_analysis — status and result lookup.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_analysis",
			mcplib.WithDescription("Fetch an analysis by ID. Returns status, and the full result once COMPLETED."),
			mcplib.WithString("analysis_id", mcplib.Description("Analysis identifier from submit_analysis"), mcplib.Required()),
		),
		s.handleGet,
	)

	// list_analyses — recent analyses overview.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_analyses",
			mcplib.WithDescription("List the most recent analyses, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return (default 20, max 100)")),
		),
		s.handleList,
	)
}

func (s *Server) handleSubmit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sub := model.Submission{
		ID:         uuid.New(),
		MediaType:  request.GetString("media_type", ""),
		Text:       request.GetString("text", ""),
		ContentURI: request.GetString("content_uri", ""),
		TopicHint:  request.GetString("topic_hint", ""),
	}
	if err := sub.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	analysisID := uuid.NewString()
	if err := s.db.CreateAnalysis(ctx, analysisID, sub); err != nil {
		s.logger.Error("mcp: create analysis failed", "error", err)
		return errorResult(fmt.Sprintf("failed to create analysis: %v", err)), nil
	}
	if err := s.queue.Enqueue(ctx, analysisID, sub); err != nil {
		s.logger.Error("mcp: enqueue failed", "analysis_id", analysisID, "error", err)
		// The row exists; mark it failed so the caller is not left polling.
		_ = s.db.FailAnalysis(ctx, analysisID, queue.FailureMessage)
		return errorResult(queue.FailureMessage), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"analysis_id": analysisID,
		"status":      model.StatusQueued,
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	analysisID := request.GetString("analysis_id", "")
	if analysisID == "" {
		return errorResult("analysis_id is required"), nil
	}
	if _, err := uuid.Parse(analysisID); err != nil {
		return errorResult("analysis_id must be a UUID"), nil
	}

	analysis, err := s.db.GetAnalysis(ctx, analysisID)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult(fmt.Sprintf("analysis %s not found", analysisID)), nil
	}
	if err != nil {
		s.logger.Error("mcp: get analysis failed", "analysis_id", analysisID, "error", err)
		return errorResult(fmt.Sprintf("failed to fetch analysis: %v", err)), nil
	}

	resultData, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode analysis: %v", err)), nil
	}
	return textResult(string(resultData)), nil
}

func (s *Server) handleList(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 20)

	analyses, err := s.db.ListAnalyses(ctx, limit)
	if err != nil {
		s.logger.Error("mcp: list analyses failed", "error", err)
		return errorResult(fmt.Sprintf("failed to list analyses: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"analyses": analyses,
		"total":    len(analyses),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleAnalysesRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	analyses, err := s.db.ListAnalyses(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent analyses: %w", err)
	}

	data, err := json.MarshalIndent(analyses, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal analyses: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "verity://analyses/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
