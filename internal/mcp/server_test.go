package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/store"
	"github.com/joescharf/revu/internal/transport"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockBackend implements Backend for testing.
type mockBackend struct {
	mu          sync.Mutex
	submissions map[string][]*models.Submission // successive answers per id
	calls       map[string]int
	list        []*models.Submission
	trends      *models.Trends

	submitErr error
	getErr    error
	nextID    int
}

func newMockBackend() *mockBackend {
	return &mockBackend{submissions: map[string][]*models.Submission{}, calls: map[string]int{}}
}

func (m *mockBackend) SubmitFile(_ context.Context, path string, lang models.Language) (string, error) {
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return fmt.Sprintf("sub-%d", m.nextID), nil
}

func (m *mockBackend) SubmitPastedCode(ctx context.Context, text, filename string, lang models.Language) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.Validation("text is empty")
	}
	return m.SubmitFile(ctx, filename, lang)
}

func (m *mockBackend) GetSubmission(_ context.Context, id string) (*models.Submission, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	answers, ok := m.submissions[id]
	if !ok {
		return nil, apperr.NotFound("submission "+id+" not found", nil)
	}
	n := m.calls[id]
	m.calls[id]++
	if n >= len(answers) {
		n = len(answers) - 1
	}
	return answers[n], nil
}

func (m *mockBackend) ListSubmissions(_ context.Context) ([]*models.Submission, error) {
	return m.list, nil
}

func (m *mockBackend) Trends(_ context.Context, projectID string, days int) (*models.Trends, error) {
	if m.trends == nil {
		return nil, apperr.NotFound("project "+projectID+" not found", nil)
	}
	return m.trends, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockBackend, *store.SQLiteStore) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	mb := newMockBackend()
	return NewServer(mb, s, WithPollInterval(10*time.Millisecond)), mb, s
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), target))
}

func completed(id, result string) *models.Submission {
	return &models.Submission{ID: id, Filename: "app.py", Language: models.LanguagePython, Status: models.StatusCompleted, Result: json.RawMessage(result)}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer(), "MCPServer() should return non-nil")
}

func TestHandleSubmitFile_RecordsHistory(t *testing.T) {
	srv, _, st := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleSubmitFile(ctx, callToolReq("revu_submit_file", map[string]any{"path": "/tmp/src/main.go"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "sub-1", out["submission_id"])

	sub, err := st.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "main.go", sub.Filename)
	assert.Equal(t, models.LanguageGo, sub.Language)
	assert.Equal(t, models.StatusPending, sub.Status)
}

func TestHandleSubmitFile_Errors(t *testing.T) {
	srv, mb, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleSubmitFile(ctx, callToolReq("revu_submit_file", nil))
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	assert.True(t, result.IsError)

	result, err = srv.handleSubmitFile(ctx, callToolReq("revu_submit_file", map[string]any{"path": "a.py", "language": "cobol"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown language")

	mb.submitErr = &transport.Error{Kind: transport.KindNetwork, Message: "connection refused"}
	result, err = srv.handleSubmitFile(ctx, callToolReq("revu_submit_file", map[string]any{"path": "a.py"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "connection refused")
}

func TestHandleSubmitCode(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleSubmitCode(ctx, callToolReq("revu_submit_code", map[string]any{
		"code": "print(1)", "filename": "snippet.py", "language": "py",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleSubmitCode(ctx, callToolReq("revu_submit_code", map[string]any{"code": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleShow_NormalizesReview(t *testing.T) {
	srv, mb, st := newTestServer(t)
	ctx := context.Background()
	mb.submissions["s1"] = []*models.Submission{completed("s1", `{
		"score": 64, "issues": "a\n\nb",
		"security_analysis": {"vulnerabilities": [{"severity": "low", "issue": "minor"}, {"severity": "critical", "issue": "major"}]}
	}`)}

	result, err := srv.handleShow(ctx, callToolReq("revu_show", map[string]any{"id": "s1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Status     string `json:"status"`
		IssueCount int    `json:"issue_count"`
		Review     struct {
			Shape           string `json:"shape"`
			Vulnerabilities []struct {
				Severity    string `json:"severity"`
				Description string `json:"description"`
			} `json:"vulnerabilities"`
		} `json:"review"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, 2, out.IssueCount)
	assert.Equal(t, "legacy", out.Review.Shape)
	require.Len(t, out.Review.Vulnerabilities, 2)
	assert.Equal(t, "major", out.Review.Vulnerabilities[0].Description, "most severe first")

	cached, err := st.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cached.HasResult())
}

func TestHandleShow_FallsBackToCache(t *testing.T) {
	srv, mb, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSubmission(ctx, completed("s1", `{"score": 90}`)))
	mb.getErr = &transport.Error{Kind: transport.KindNetwork, Message: "down"}

	result, err := srv.handleShow(ctx, callToolReq("revu_show", map[string]any{"id": "s1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"completed"`)
}

func TestHandleShow_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleShow(context.Background(), callToolReq("revu_show", map[string]any{"id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleShow_NotFoundIgnoresCache(t *testing.T) {
	srv, mb, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSubmission(ctx, completed("s1", `{"score": 90}`)))
	mb.getErr = apperr.NotFound("submission s1 not found",
		&transport.Error{Kind: transport.KindHTTP, HTTPStatus: 404, Message: "Submission not found"})

	result, err := srv.handleShow(ctx, callToolReq("revu_show", map[string]any{"id": "s1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleListSubmissions(t *testing.T) {
	srv, mb, st := newTestServer(t)
	ctx := context.Background()
	mb.list = []*models.Submission{
		completed("b", `{"score": 70, "ai_review": {"issues": ["x"]}}`),
		{ID: "a", Filename: "a.js", Status: models.StatusPending},
	}
	require.NoError(t, st.SaveSubmission(ctx, &models.Submission{ID: "local-1", Status: models.StatusProcessing}))

	result, err := srv.handleListSubmissions(ctx, callToolReq("revu_list_submissions", nil))
	require.NoError(t, err)
	var remote []map[string]any
	resultJSON(t, result, &remote)
	require.Len(t, remote, 2)
	assert.Equal(t, "b", remote[0]["id"])
	assert.EqualValues(t, 1, remote[0]["issue_count"])

	result, err = srv.handleListSubmissions(ctx, callToolReq("revu_list_submissions", map[string]any{"status": "pending"}))
	require.NoError(t, err)
	resultJSON(t, result, &remote)
	assert.Len(t, remote, 1)

	result, err = srv.handleListSubmissions(ctx, callToolReq("revu_list_submissions", map[string]any{"local": true}))
	require.NoError(t, err)
	var local []map[string]any
	resultJSON(t, result, &local)
	require.Len(t, local, 1)
	assert.Equal(t, "local-1", local[0]["id"])
}

func TestHandleWait_Settles(t *testing.T) {
	srv, mb, st := newTestServer(t)
	ctx := context.Background()
	mb.submissions["s1"] = []*models.Submission{
		{ID: "s1", Status: models.StatusPending},
		{ID: "s1", Status: models.StatusProcessing},
		completed("s1", `{"overall_score": 88}`),
	}

	result, err := srv.handleWait(ctx, callToolReq("revu_wait", map[string]any{"id": "s1", "timeout_seconds": 5}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"completed"`)

	cached, err := st.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, cached.Status)
}

func TestHandleWait_TimesOut(t *testing.T) {
	srv, mb, _ := newTestServer(t)
	mb.submissions["s1"] = []*models.Submission{{ID: "s1", Status: models.StatusProcessing}}

	result, err := srv.handleWait(context.Background(), callToolReq("revu_wait", map[string]any{"id": "s1", "timeout_seconds": 0.05}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"timed_out":true`)
}

func TestHandleWait_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleWait(context.Background(), callToolReq("revu_wait", map[string]any{"id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStats(t *testing.T) {
	srv, _, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSubmission(ctx, completed("s1", `{"score": 80, "issues": "a\nb"}`)))
	require.NoError(t, st.SaveSubmission(ctx, &models.Submission{ID: "s2", Status: models.StatusFailed}))

	result, err := srv.handleStats(ctx, callToolReq("revu_stats", nil))
	require.NoError(t, err)

	var out struct {
		Total        int            `json:"total"`
		ByStatus     map[string]int `json:"by_status"`
		AverageScore float64        `json:"average_score"`
		TotalIssues  int            `json:"total_issues"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.ByStatus["failed"])
	assert.InDelta(t, 80, out.AverageScore, 0.001)
	assert.Equal(t, 2, out.TotalIssues)
}

func TestHandleTrends(t *testing.T) {
	srv, mb, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleTrends(ctx, callToolReq("revu_trends", map[string]any{"project": "shop"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	mb.trends = &models.Trends{ProjectID: "shop", PeriodDays: 30, Trend: "stable"}
	result, err = srv.handleTrends(ctx, callToolReq("revu_trends", map[string]any{"project": "shop"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"stable"`)
}
