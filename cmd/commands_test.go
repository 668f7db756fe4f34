package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/store"
)

const completedReview = `{
	"submission_id": "sub-1",
	"filename": "main.py",
	"language": "python",
	"status": "completed",
	"overall_score": 85,
	"quality_score": 80,
	"security_score": 90,
	"maintainability_score": 70,
	"issues": "unused import\nshadowed variable",
	"security_analysis": {"vulnerabilities": [
		{"severity": "high", "line": 3, "description": "eval on input", "recommendation": "use ast.literal_eval"}
	]},
	"ai_review": {"suggestions": ["add type hints"], "positive_aspects": ["clear names"]},
	"summary": "Solid module"
}`

// reviewBackend fakes the review service for command tests.
type reviewBackend struct {
	mu          sync.Mutex
	resultPolls int
	batchPolls  int
	uploads     []string
	questions   []string
}

func (b *reviewBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/submit":
		_, fh, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"detail":"no file"}`, http.StatusBadRequest)
			return
		}
		b.uploads = append(b.uploads, fh.Filename)
		_, _ = w.Write([]byte(`{"submission_id":"sub-1","status":"pending"}`))

	case r.URL.Path == "/api/v1/results/sub-1":
		b.resultPolls++
		if b.resultPolls == 1 {
			_, _ = w.Write([]byte(`{"submission_id":"sub-1","filename":"main.py","status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(completedReview))

	case r.URL.Path == "/health":
		_, _ = w.Write([]byte(`{"status":"healthy"}`))

	case r.URL.Path == "/submissions/":
		_, _ = w.Write([]byte(`[
			{"id":"sub-2","filename":"a.go","status":"pending"},
			{"id":"sub-3","filename":"b.js","status":"completed","review_result":{"score":55,"issues":"x"}}
		]`))

	case r.URL.Path == "/api/v1/chat/start":
		if r.URL.Query().Get("submission_id") != "sub-1" {
			http.Error(w, `{"detail":"unknown submission"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"session_id":"chat-1"}`))

	case r.URL.Path == "/api/v1/chat/chat-1/message":
		b.questions = append(b.questions, r.URL.Query().Get("message"))
		_, _ = w.Write([]byte(`{"assistant_response":"Because of the eval call."}`))

	case r.URL.Path == "/api/v1/batch/b-1/status":
		b.batchPolls++
		if b.batchPolls == 1 {
			_, _ = w.Write([]byte(`{"batch_id":"b-1","project_name":"shop","total_files":2,"completed":1,"processing":1,"progress_percentage":50}`))
			return
		}
		_, _ = w.Write([]byte(`{"batch_id":"b-1","project_name":"shop","total_files":2,"completed":2,"progress_percentage":100,"average_score":77.5,
			"files":[{"submission_id":"s-a","filename":"a.py","status":"completed"},{"submission_id":"s-b","filename":"b.py","status":"completed"}]}`))

	case r.URL.Path == "/api/v1/batch/b-1/report":
		_, _ = w.Write([]byte(`{"batch_id":"b-1","project_name":"shop",
			"summary":{"total_files":2,"total_issues":9,"average_quality_score":70,"average_security_score":88,"average_maintainability":64},
			"language_breakdown":{"python":{"count":1,"avg_score":81},"go":{"count":1,"avg_score":74}},
			"files_needing_attention":[{"filename":"b.py","issues_count":6,"overall_score":58}]}`))

	case r.URL.Path == "/api/v1/batch/b-2/report":
		_, _ = w.Write([]byte(`{"batch_id":"b-2","project_name":"empty","summary":{"message":"No reviews completed yet"}}`))

	case r.URL.Path == "/api/v1/batch/b-gone/status":
		b.batchPolls++
		if b.batchPolls == 1 {
			_, _ = w.Write([]byte(`{"batch_id":"b-gone","project_name":"shop","total_files":2,"completed":0,"processing":2,"progress_percentage":0}`))
			return
		}
		http.Error(w, `{"detail":"Batch not found"}`, http.StatusNotFound)

	case r.URL.Path == "/api/v1/projects/p-1/trends":
		_, _ = w.Write([]byte(`{"project_id":"p-1","period_days":7,"trend":"improving","score_change":4.5,"current_score":82,
			"trends":[{"date":"2026-10-01","overall_score":78,"total_issues":5},{"date":"2026-10-02","overall_score":82}]}`))

	default:
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	}
}

// cmdEnv isolates config, store and output and points the backend at a fake.
func cmdEnv(t *testing.T) (*reviewBackend, *bytes.Buffer) {
	t.Helper()
	_, out := testEnvOut(t)
	resetCommandFlags(t)

	b := &reviewBackend{}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	viper.Set("backend.url", srv.URL)
	return b, out
}

func resetCommandFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		submitLanguage, submitWatch = "", false
		pasteFilename, pasteLanguage, pasteWatch = "", "", false
		pasteInput = os.Stdin
		listLocal, listStatus, listBatch, listLimit = false, "", "", 0
		showJSON = false
		batchProject, batchWatch, batchReportJSON = "", false, false
		chatMessages, chatSave, chatList = nil, false, false
		trendsDays = 30
		statsRemote = false
		dryRun = false
	})
}

func TestSubmitRun_WatchPrintsReviewAndRecordsHistory(t *testing.T) {
	b, out := cmdEnv(t)
	path := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(path, []byte("import os\n"), 0o644))
	submitWatch = true

	require.NoError(t, submitRun(context.Background(), path))

	assert.Equal(t, []string{"main.py"}, b.uploads)
	assert.Contains(t, out.String(), "Submitted main.py as sub-1")
	assert.Contains(t, out.String(), "Issues (2)")
	assert.Contains(t, out.String(), "eval on input")
	assert.Contains(t, out.String(), "add type hints")

	s, err := getStore()
	require.NoError(t, err)
	got, err := s.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.True(t, got.HasResult())
}

func TestSubmitRun_RejectsExtensionBeforeUpload(t *testing.T) {
	b, _ := cmdEnv(t)
	path := filepath.Join(t.TempDir(), "tool.exe")
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))

	err := submitRun(context.Background(), path)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, b.uploads)
}

func TestSubmitRun_UnknownLanguage(t *testing.T) {
	cmdEnv(t)
	submitLanguage = "cobol"

	err := submitRun(context.Background(), "main.py")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown language")
}

func TestSubmitRun_DryRun(t *testing.T) {
	b, out := cmdEnv(t)
	dryRun = true
	ui.DryRun = true

	require.NoError(t, submitRun(context.Background(), "main.go"))
	assert.Contains(t, out.String(), "Would submit main.go")
	assert.Empty(t, b.uploads)
}

func TestPasteRun_UploadsUnderFilename(t *testing.T) {
	b, out := cmdEnv(t)
	pasteInput = strings.NewReader("print('hi')\n")
	pasteFilename = "snippet.py"

	require.NoError(t, pasteRun(context.Background()))
	assert.Equal(t, []string{"snippet.py"}, b.uploads)
	assert.Contains(t, out.String(), "revu watch sub-1")
}

func TestPasteRun_EmptyInput(t *testing.T) {
	b, _ := cmdEnv(t)
	pasteInput = strings.NewReader("   \n")
	pasteFilename = "snippet.py"

	err := pasteRun(context.Background())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, b.uploads)
}

func TestShowRun_NotFound(t *testing.T) {
	cmdEnv(t)

	err := showRun(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestShowRun_NotFoundIgnoresCachedCopy(t *testing.T) {
	_, out := cmdEnv(t)
	s, err := getStore()
	require.NoError(t, err)
	require.NoError(t, s.SaveSubmission(context.Background(), &models.Submission{
		ID:       "gone",
		Filename: "stale.py",
		Status:   models.StatusCompleted,
		Result:   json.RawMessage(`{"score":70}`),
	}))

	err = showRun(context.Background(), "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotContains(t, out.String(), "cached copy")
	assert.NotContains(t, out.String(), "stale.py")
}

func TestShowRun_FallsBackToCacheWhenBackendDown(t *testing.T) {
	_, out := cmdEnv(t)
	s, err := getStore()
	require.NoError(t, err)
	require.NoError(t, s.SaveSubmission(context.Background(), &models.Submission{
		ID:       "sub-9",
		Filename: "cached.go",
		Language: models.LanguageGo,
		Status:   models.StatusCompleted,
		Result:   json.RawMessage(`{"score":91,"issues":"one"}`),
	}))

	srv := httptest.NewServer(http.NotFoundHandler())
	viper.Set("backend.url", srv.URL)
	srv.Close()

	require.NoError(t, showRun(context.Background(), "sub-9"))
	assert.Contains(t, out.String(), "cached copy")
	assert.Contains(t, out.String(), "cached.go")
	assert.Contains(t, out.String(), "Issues (1)")
}

func TestWatchSubmission_EmptyIDStops(t *testing.T) {
	cmdEnv(t)
	gw, err := newGateway()
	require.NoError(t, err)

	_, err = watchSubmission(context.Background(), gw, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestShowRun_JSON(t *testing.T) {
	b, out := cmdEnv(t)
	b.resultPolls = 1
	showJSON = true

	require.NoError(t, showRun(context.Background(), "sub-1"))

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.String()), &res))
	assert.Equal(t, "v1", res["shape"])
	assert.Len(t, res["issues"], 2)
}

func TestListRun_RemoteFilterAndLocalHistory(t *testing.T) {
	_, out := cmdEnv(t)
	listStatus = "completed"

	require.NoError(t, listRun(context.Background()))
	assert.Contains(t, out.String(), "sub-3")
	assert.NotContains(t, out.String(), "sub-2")

	// Every remote submission was cached, filtered or not.
	listLocal = true
	listStatus = ""
	out.Reset()
	require.NoError(t, listRun(context.Background()))
	assert.Contains(t, out.String(), "sub-2")
	assert.Contains(t, out.String(), "sub-3")
}

func TestChatRun_MessagesAndSave(t *testing.T) {
	b, out := cmdEnv(t)
	chatMessages = []string{"Why the high severity?"}
	chatSave = true

	require.NoError(t, chatRun(context.Background(), "sub-1"))

	assert.Equal(t, []string{"Why the high severity?"}, b.questions)
	assert.Contains(t, out.String(), "Because of the eval call.")
	assert.Contains(t, out.String(), "Transcript saved (3 messages)")

	s, err := getStore()
	require.NoError(t, err)
	trs, err := s.ListTranscripts(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, "chat-1", trs[0].SessionID)
	assert.Equal(t, models.RoleUser, trs[0].Messages[1].Role)
}

func TestChatRun_OpenFailure(t *testing.T) {
	cmdEnv(t)
	chatMessages = []string{"hello"}

	err := chatRun(context.Background(), "nope")
	assert.Error(t, err)
}

func TestChatLoop_Commands(t *testing.T) {
	b, out := cmdEnv(t)
	chatInput = strings.NewReader("/help\n\nWhat about line 3?\n/history\n/quit\nignored\n")
	t.Cleanup(func() { chatInput = os.Stdin })

	require.NoError(t, chatRun(context.Background(), "sub-1"))

	assert.Equal(t, []string{"What about line 3?"}, b.questions)
	assert.Contains(t, out.String(), "Why did this get a low score?")
	assert.Equal(t, 2, strings.Count(out.String(), "Because of the eval call."))
}

func TestBatchStatusRun_WatchUntilDone(t *testing.T) {
	b, out := cmdEnv(t)
	batchWatch = true
	gw, err := newGateway()
	require.NoError(t, err)

	require.NoError(t, batchStatusRun(context.Background(), gw, "b-1"))
	assert.Equal(t, 2, b.batchPolls)
	assert.Contains(t, out.String(), "1/2 done")
	assert.Contains(t, out.String(), "Average score: 77.5")
	assert.Contains(t, out.String(), "s-b")
}

func TestBatchStatusRun_WatchStopsWhenBatchDisappears(t *testing.T) {
	b, out := cmdEnv(t)
	batchWatch = true
	gw, err := newGateway()
	require.NoError(t, err)

	err = batchStatusRun(context.Background(), gw, "b-gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 2, b.batchPolls)
	assert.Contains(t, out.String(), "0/2 done")
	assert.NotContains(t, out.String(), "retrying")
}

func TestBatchReportRun(t *testing.T) {
	_, out := cmdEnv(t)
	gw, err := newGateway()
	require.NoError(t, err)

	require.NoError(t, batchReportRun(context.Background(), gw, "b-1"))
	text := out.String()
	assert.Contains(t, text, "Issues: 9")
	assert.Contains(t, text, "Needs attention")
	assert.Contains(t, text, "b.py")
	assert.Contains(t, text, "python")
	assert.Contains(t, text, "Maintainability: 64")
}

func TestBatchReportRun_NoReviewsYet(t *testing.T) {
	_, out := cmdEnv(t)
	gw, err := newGateway()
	require.NoError(t, err)

	require.NoError(t, batchReportRun(context.Background(), gw, "b-2"))
	assert.Contains(t, out.String(), "No reviews completed yet")
	assert.NotContains(t, out.String(), "Needs attention")
}

func TestBatchReportRun_JSON(t *testing.T) {
	_, out := cmdEnv(t)
	batchReportJSON = true
	gw, err := newGateway()
	require.NoError(t, err)

	require.NoError(t, batchReportRun(context.Background(), gw, "b-1"))
	var rep models.BatchReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, 9, rep.Summary.TotalIssues)
	assert.Equal(t, 74.0, rep.LanguageBreakdown["go"].AvgScore)
}

func TestBatchReportRun_NotFound(t *testing.T) {
	cmdEnv(t)
	gw, err := newGateway()
	require.NoError(t, err)

	err = batchReportRun(context.Background(), gw, "b-9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBatchSubmitRun_RequiresZip(t *testing.T) {
	cmdEnv(t)

	err := batchSubmitRun(context.Background(), "project.tar")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTrendsRun(t *testing.T) {
	_, out := cmdEnv(t)
	trendsDays = 7

	require.NoError(t, trendsRun(context.Background(), "p-1"))
	assert.Contains(t, out.String(), "improving (+4.5)")
	assert.Contains(t, out.String(), "2026-10-01")
}

func TestTrendsRun_RejectsDays(t *testing.T) {
	cmdEnv(t)
	trendsDays = 0

	err := trendsRun(context.Background(), "p-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStatsRun_Local(t *testing.T) {
	_, out := cmdEnv(t)
	s, err := getStore()
	require.NoError(t, err)
	for _, sub := range []*models.Submission{
		{ID: "a", Filename: "a.py", Status: models.StatusCompleted, Result: json.RawMessage(`{"score":90,"issues":"x\ny"}`)},
		{ID: "b", Filename: "b.py", Status: models.StatusPending},
	} {
		require.NoError(t, s.SaveSubmission(context.Background(), sub))
	}

	require.NoError(t, statsRun(context.Background()))
	assert.Contains(t, out.String(), "Submissions:    2")
	assert.Contains(t, out.String(), "Total issues:   2")
	assert.Contains(t, out.String(), "good 1")
}

func TestStatusRun(t *testing.T) {
	_, out := cmdEnv(t)

	require.NoError(t, statusRun(context.Background()))
	assert.Contains(t, out.String(), "Backend healthy")
	assert.Contains(t, out.String(), "No submissions yet")

	s, err := getStore()
	require.NoError(t, err)
	subs, err := s.ListSubmissions(context.Background(), store.SubmissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs)
}
