package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/logging"
	"github.com/joescharf/revu/internal/metrics"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/poller"
	"github.com/joescharf/revu/internal/review"
	"github.com/joescharf/revu/internal/stats"
	"github.com/joescharf/revu/internal/store"
)

// Backend is the part of the submission gateway the tools use.
type Backend interface {
	SubmitFile(ctx context.Context, path string, lang models.Language) (string, error)
	SubmitPastedCode(ctx context.Context, text, filename string, lang models.Language) (string, error)
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListSubmissions(ctx context.Context) ([]*models.Submission, error)
	Trends(ctx context.Context, projectID string, days int) (*models.Trends, error)
}

// defaultWaitTimeout bounds revu_wait when the caller gives no timeout.
const defaultWaitTimeout = 2 * time.Minute

// Server exposes review submission and results as MCP tools.
type Server struct {
	backend    Backend
	store      store.Store
	scheduler  *poller.Scheduler
	summarizer *stats.Summarizer
	logger     *zap.Logger
	version    string
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	version  string
}

// WithPollInterval sets the interval revu_wait polls at.
func WithPollInterval(d time.Duration) Option {
	return func(c *serverConfig) { c.interval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *serverConfig) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serverConfig) { c.metrics = m }
}

func WithVersion(v string) Option {
	return func(c *serverConfig) { c.version = v }
}

// NewServer creates the MCP server wrapper. The store records every
// submission made or observed through the tools.
func NewServer(b Backend, s store.Store, opts ...Option) *Server {
	cfg := &serverConfig{version: "dev"}
	for _, o := range opts {
		o(cfg)
	}
	logger := logging.OrNop(cfg.logger)
	return &Server{
		backend: b,
		store:   s,
		scheduler: poller.New(b,
			poller.WithInterval(cfg.interval),
			poller.WithLogger(logger),
			poller.WithMetrics(cfg.metrics),
		),
		summarizer: stats.NewSummarizer(),
		logger:     logger,
		version:    cfg.version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("revu", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.submitFileTool())
	srv.AddTool(s.submitCodeTool())
	srv.AddTool(s.showTool())
	srv.AddTool(s.listSubmissionsTool())
	srv.AddTool(s.waitTool())
	srv.AddTool(s.statsTool())
	srv.AddTool(s.trendsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// revu_submit_file
func (s *Server) submitFileTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_submit_file",
		mcp.WithDescription("Submit a source file for review. Returns the submission id; use revu_wait or revu_show to get the result."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to a .py, .js, .jsx, .ts, .tsx, .java, .cpp, .c or .go file")),
		mcp.WithString("language", mcp.Description("Declared language (detected by the backend when omitted)")),
	)
	return tool, s.handleSubmitFile
}

func (s *Server) handleSubmitFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	lang, ok := models.ParseLanguage(request.GetString("language", ""))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown language: %s", request.GetString("language", ""))), nil
	}

	id, err := s.backend.SubmitFile(ctx, path, lang)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}
	s.record(ctx, &models.Submission{ID: id, Filename: filepath.Base(path), Language: orDetected(lang, path), Status: models.StatusPending})
	return jsonResult(map[string]any{"submission_id": id, "status": models.StatusPending})
}

// revu_submit_code
func (s *Server) submitCodeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_submit_code",
		mcp.WithDescription("Submit a code snippet for review as if it were a file with the given name."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Source code to review")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File name to submit the code under, e.g. main.py")),
		mcp.WithString("language", mcp.Description("Declared language")),
	)
	return tool, s.handleSubmitCode
}

func (s *Server) handleSubmitCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: code"), nil
	}
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: filename"), nil
	}
	lang, ok := models.ParseLanguage(request.GetString("language", ""))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown language: %s", request.GetString("language", ""))), nil
	}

	id, err := s.backend.SubmitPastedCode(ctx, code, filename, lang)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}
	s.record(ctx, &models.Submission{ID: id, Filename: filename, Language: orDetected(lang, filename), Status: models.StatusPending})
	return jsonResult(map[string]any{"submission_id": id, "status": models.StatusPending})
}

// revu_show
func (s *Server) showTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_show",
		mcp.WithDescription("Get a submission's status and, once completed, its normalized review: scores, issues, suggestions, vulnerabilities and summary."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Submission id")),
	)
	return tool, s.handleShow
}

func (s *Server) handleShow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	sub, err := s.lookup(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(submissionView(sub))
}

// revu_list_submissions
func (s *Server) listSubmissionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_list_submissions",
		mcp.WithDescription("List submissions. By default lists what the backend knows; set local to list this client's history instead."),
		mcp.WithBoolean("local", mcp.Description("List the local history instead of the backend")),
		mcp.WithString("status", mcp.Description("Filter by status: pending, processing, completed, failed")),
	)
	return tool, s.handleListSubmissions
}

func (s *Server) handleListSubmissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.Status(request.GetString("status", ""))

	var subs []*models.Submission
	var err error
	if request.GetBool("local", false) {
		subs, err = s.store.ListSubmissions(ctx, store.SubmissionFilter{Status: status})
	} else {
		subs, err = s.backend.ListSubmissions(ctx)
		if status != "" {
			subs = filterStatus(subs, status)
		}
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list submissions: %v", err)), nil
	}

	type submissionOut struct {
		ID         string        `json:"id"`
		Filename   string        `json:"filename"`
		Language   string        `json:"language"`
		Status     models.Status `json:"status"`
		Score      *float64      `json:"score,omitempty"`
		IssueCount *int          `json:"issue_count,omitempty"`
		CreatedAt  string        `json:"created_at,omitempty"`
	}

	out := make([]submissionOut, len(subs))
	for i, sub := range subs {
		o := submissionOut{
			ID:       sub.ID,
			Filename: sub.Filename,
			Language: string(sub.Language),
			Status:   sub.Status,
		}
		if !sub.CreatedAt.IsZero() {
			o.CreatedAt = sub.CreatedAt.Format(time.RFC3339)
		}
		if sub.HasResult() {
			r := review.Normalize(sub.Result)
			n := r.IssueCount()
			o.Score = r.Scores.Overall
			o.IssueCount = &n
		}
		out[i] = o
	}
	return jsonResult(out)
}

// revu_wait
func (s *Server) waitTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_wait",
		mcp.WithDescription("Poll a submission until it completes or fails, then return it like revu_show."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Submission id")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Give up after this many seconds (default 120)")),
	)
	return tool, s.handleWait
}

func (s *Server) handleWait(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	timeout := defaultWaitTimeout
	if secs := request.GetFloat("timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		settled   *models.Submission
		settleErr error
	)
	sub := s.scheduler.Subscribe(ctx, id, poller.Observer{
		OnStatus: func(sub *models.Submission) { s.record(ctx, sub) },
		OnSettled: func(sub *models.Submission, err error) {
			settled, settleErr = sub, err
		},
		OnError: func(err error) {
			s.logger.Debug("wait: fetch failed", zap.String("id", id), zap.Error(err))
		},
	})
	sub.Wait()

	switch {
	case settleErr != nil:
		return mcp.NewToolResultError(settleErr.Error()), nil
	case settled != nil:
		return jsonResult(submissionView(settled))
	}

	latest := sub.Latest()
	if latest == nil {
		return mcp.NewToolResultError(fmt.Sprintf("submission %s did not respond within %s", id, timeout)), nil
	}
	view := submissionView(latest)
	view["timed_out"] = true
	return jsonResult(view)
}

// revu_stats
func (s *Server) statsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_stats",
		mcp.WithDescription("Summarize this client's submission history: counts by status, average score, total issues."),
	)
	return tool, s.handleStats
}

func (s *Server) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subs, err := s.store.ListSubmissions(ctx, store.SubmissionFilter{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}
	return jsonResult(s.summarizer.Summarize(subs))
}

// revu_trends
func (s *Server) trendsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_trends",
		mcp.WithDescription("Get a project's daily score history."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id or name")),
		mcp.WithNumber("days", mcp.Description("Days of history (default 30)")),
	)
	return tool, s.handleTrends
}

func (s *Server) handleTrends(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	days := request.GetInt("days", 30)

	tr, err := s.backend.Trends(ctx, project, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get trends: %v", err)), nil
	}
	return jsonResult(tr)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// lookup fetches a submission from the backend, falling back to the local
// cache when the backend is unreachable. Terminal results are cached.
func (s *Server) lookup(ctx context.Context, id string) (*models.Submission, error) {
	sub, err := s.backend.GetSubmission(ctx, id)
	if err == nil {
		s.record(ctx, sub)
		return sub, nil
	}
	if errors.Is(err, apperr.ErrTransport) {
		if cached, cerr := s.store.GetSubmission(ctx, id); cerr == nil {
			s.logger.Debug("backend unreachable, using cached submission", zap.String("id", id), zap.Error(err))
			return cached, nil
		}
	}
	return nil, err
}

// record saves sub to the local history. Regressions and write failures are
// logged and otherwise ignored.
func (s *Server) record(ctx context.Context, sub *models.Submission) {
	if s.store == nil || sub == nil {
		return
	}
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		s.logger.Debug("history not updated", zap.String("id", sub.ID), zap.Error(err))
	}
}

func submissionView(sub *models.Submission) map[string]any {
	view := map[string]any{
		"id":       sub.ID,
		"filename": sub.Filename,
		"language": sub.Language,
		"status":   sub.Status,
	}
	if sub.Message != "" {
		view["message"] = sub.Message
	}
	if sub.HasResult() {
		r := review.Normalize(sub.Result)
		r.Vulnerabilities = review.SortBySeverity(r.Vulnerabilities)
		view["review"] = r
		view["issue_count"] = r.IssueCount()
	}
	return view
}

func filterStatus(subs []*models.Submission, status models.Status) []*models.Submission {
	var out []*models.Submission
	for _, sub := range subs {
		if sub.Status == status {
			out = append(out, sub)
		}
	}
	return out
}

func orDetected(lang models.Language, filename string) models.Language {
	if lang != "" {
		return lang
	}
	return models.LanguageFromFilename(filename)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
