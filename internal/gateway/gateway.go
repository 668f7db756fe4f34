// Package gateway turns review-backend REST calls into typed operations:
// submitting files, pasted code and zip batches, and reading submissions,
// batch progress and project trends back.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/logging"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/transport"
)

// Requester is the part of transport.Client the gateway needs.
type Requester interface {
	Do(ctx context.Context, method, path string, body transport.Body) (*transport.Response, error)
}

// Gateway is the typed face of the review backend.
type Gateway struct {
	t        Requester
	routes   Routes
	validate *validator.Validate
	logger   *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRoutes selects the backend route set. The default is RoutesV1.
func WithRoutes(r Routes) Option {
	return func(g *Gateway) { g.routes = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New returns a Gateway issuing requests through t.
func New(t Requester, opts ...Option) *Gateway {
	g := &Gateway{
		t:        t,
		routes:   RoutesV1,
		validate: validator.New(),
	}
	for _, o := range opts {
		o(g)
	}
	g.logger = logging.OrNop(g.logger)
	return g
}

// Routes returns the active route set.
func (g *Gateway) Routes() Routes { return g.routes }

// SubmitFile uploads the file at path and returns the new submission id.
// An empty lang lets the backend detect the language.
func (g *Gateway) SubmitFile(ctx context.Context, path string, lang models.Language) (string, error) {
	if err := ValidateFilename(path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return g.upload(ctx, filepath.Base(path), f, lang)
}

// SubmitReader uploads content already held in memory under filename.
func (g *Gateway) SubmitReader(ctx context.Context, filename string, r io.Reader, lang models.Language) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return g.upload(ctx, filepath.Base(filename), r, lang)
}

// SubmitPastedCode uploads text as if it were a file named filename.
func (g *Gateway) SubmitPastedCode(ctx context.Context, text, filename string, lang models.Language) (string, error) {
	in := pasteInput{Text: strings.TrimSpace(text), Filename: strings.TrimSpace(filename)}
	if err := check(g.validate, in); err != nil {
		return "", err
	}
	return g.upload(ctx, in.Filename, strings.NewReader(text), lang)
}

func (g *Gateway) upload(ctx context.Context, filename string, r io.Reader, lang models.Language) (string, error) {
	body := &transport.Multipart{
		Fields:   map[string]string{"language": string(lang)},
		FileName: filename,
		File:     r,
	}
	resp, err := g.t.Do(ctx, http.MethodPost, g.routes.Submit, body)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", filename, err)
	}
	raw, err := resp.JSON()
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", filename, err)
	}
	id := firstString(gjson.ParseBytes(raw), "submission_id", "id")
	if id == "" {
		return "", &transport.Error{Kind: transport.KindDecode, Message: "submit response carries no submission id"}
	}
	g.logger.Debug("submitted", zap.String("file", filename), zap.String("id", id))
	return id, nil
}

// SubmitBatch uploads a zip archive of source files. projectName defaults to
// the archive's base name without the .zip suffix.
func (g *Gateway) SubmitBatch(ctx context.Context, zipPath, projectName string) (*models.BatchReceipt, error) {
	in := batchInput{Path: strings.ToLower(strings.TrimSpace(zipPath)), ProjectName: strings.TrimSpace(projectName)}
	if err := check(g.validate, in); err != nil {
		if !strings.HasSuffix(in.Path, ".zip") {
			return nil, apperr.Validation("batch upload requires a .zip archive: %s", filepath.Base(zipPath))
		}
		return nil, err
	}
	if in.ProjectName == "" {
		base := filepath.Base(zipPath)
		in.ProjectName = base[:len(base)-len(filepath.Ext(base))]
	}

	f, err := os.Open(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer f.Close()

	body := &transport.Multipart{
		Fields:   map[string]string{"project_name": in.ProjectName},
		FileName: filepath.Base(zipPath),
		File:     f,
	}
	resp, err := g.t.Do(ctx, http.MethodPost, pathSubmitBatch, body)
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	var receipt models.BatchReceipt
	if err := resp.Decode(&receipt); err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	if receipt.ProjectName == "" {
		receipt.ProjectName = in.ProjectName
	}
	return &receipt, nil
}

// GetSubmission fetches one submission. An unknown id is a not-found error.
func (g *Gateway) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("submission id is required")
	}
	resp, err := g.t.Do(ctx, http.MethodGet, g.routes.result(id), nil)
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("submission %s not found", id), err)
		}
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	raw, err := resp.JSON()
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	sub := decodeSubmission(gjson.ParseBytes(raw))
	if sub.ID == "" {
		sub.ID = id
	}
	return sub, nil
}

// ListSubmissions returns every submission the backend knows about, in the
// order the backend returned them. A v1 backend that does not serve the list
// route is asked for its dashboard's recent submissions instead.
func (g *Gateway) ListSubmissions(ctx context.Context) ([]*models.Submission, error) {
	resp, err := g.t.Do(ctx, http.MethodGet, g.routes.List, nil)
	if err != nil && g.routes.Recent != "" && transport.IsStatus(err, http.StatusNotFound) {
		g.logger.Debug("list route not served, using recent submissions", zap.String("path", g.routes.Recent))
		resp, err = g.t.Do(ctx, http.MethodGet, g.routes.Recent, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	raw, err := resp.JSON()
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	doc := gjson.ParseBytes(raw)
	for _, key := range []string{"submissions", "recent_submissions"} {
		if doc.IsArray() {
			break
		}
		if v := gjson.GetBytes(raw, key); v.Exists() {
			doc = v
		}
	}
	if !doc.IsArray() {
		return nil, &transport.Error{Kind: transport.KindDecode, Message: "submission list is not an array"}
	}

	var subs []*models.Submission
	for _, item := range doc.Array() {
		if !item.IsObject() {
			continue
		}
		subs = append(subs, decodeSubmission(item))
	}
	return subs, nil
}

// BatchStatus reports the per-file progress of a batch upload.
func (g *Gateway) BatchStatus(ctx context.Context, batchID string) (*models.BatchStatus, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, apperr.Validation("batch id is required")
	}
	resp, err := g.t.Do(ctx, http.MethodGet, batchStatusPath(batchID), nil)
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("batch %s not found", batchID), err)
		}
		return nil, fmt.Errorf("batch status %s: %w", batchID, err)
	}
	var st models.BatchStatus
	if err := resp.Decode(&st); err != nil {
		return nil, fmt.Errorf("batch status %s: %w", batchID, err)
	}
	for i := range st.Files {
		st.Files[i].Status = models.ParseStatus(string(st.Files[i].Status))
	}
	return &st, nil
}

// BatchReport returns the aggregated review metrics of a batch. Before any
// review completes the report carries only a summary message.
func (g *Gateway) BatchReport(ctx context.Context, batchID string) (*models.BatchReport, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, apperr.Validation("batch id is required")
	}
	resp, err := g.t.Do(ctx, http.MethodGet, batchReportPath(batchID), nil)
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("batch %s not found", batchID), err)
		}
		return nil, fmt.Errorf("batch report %s: %w", batchID, err)
	}
	var rep models.BatchReport
	if err := resp.Decode(&rep); err != nil {
		return nil, fmt.Errorf("batch report %s: %w", batchID, err)
	}
	if rep.BatchID == "" {
		rep.BatchID = batchID
	}
	return &rep, nil
}

// Trends returns the day-granularity score history of a project over the last days days.
func (g *Gateway) Trends(ctx context.Context, projectID string, days int) (*models.Trends, error) {
	in := trendsInput{ProjectID: strings.TrimSpace(projectID), Days: days}
	if err := check(g.validate, in); err != nil {
		return nil, err
	}
	resp, err := g.t.Do(ctx, http.MethodGet, trendsPath(in.ProjectID, days), nil)
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("project %s not found", projectID), err)
		}
		return nil, fmt.Errorf("trends %s: %w", projectID, err)
	}
	var tr models.Trends
	if err := resp.Decode(&tr); err != nil {
		return nil, fmt.Errorf("trends %s: %w", projectID, err)
	}
	return &tr, nil
}

// Health pings the backend and returns its reported status string.
func (g *Gateway) Health(ctx context.Context) (string, error) {
	resp, err := g.t.Do(ctx, http.MethodGet, pathHealth, nil)
	if err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	if status := gjson.GetBytes(resp.Body, "status"); status.Exists() {
		return status.String(), nil
	}
	return "ok", nil
}

// resultKeys mark a flat v1 payload as a finished review.
var resultKeys = []string{"overall_score", "score", "ai_review", "static_analysis", "security_analysis", "issues_count"}

// decodeSubmission reads either the legacy record shape or the v1 result shape.
func decodeSubmission(doc gjson.Result) *models.Submission {
	sub := &models.Submission{
		ID:          firstString(doc, "id", "submission_id"),
		Filename:    doc.Get("filename").String(),
		Message:     doc.Get("message").String(),
		BatchID:     doc.Get("batch_id").String(),
		ProjectName: doc.Get("project_name").String(),
		CreatedAt:   parseTime(doc.Get("created_at").String()),
	}
	if lang, ok := models.ParseLanguage(doc.Get("language").String()); ok && lang != "" {
		sub.Language = lang
	} else if sub.Filename != "" {
		sub.Language = models.LanguageFromFilename(sub.Filename)
	} else {
		sub.Language = models.LanguageUnknown
	}

	status := doc.Get("status")
	hasResult := false
	for _, k := range resultKeys {
		if doc.Get(k).Exists() {
			hasResult = true
			break
		}
	}

	switch rr := doc.Get("review_result"); {
	case rr.Exists() && rr.Type != gjson.Null:
		sub.Result = json.RawMessage(rr.Raw)
	case hasResult:
		sub.Result = json.RawMessage(doc.Raw)
	}

	switch {
	case status.Exists():
		sub.Status = models.ParseStatus(status.String())
	case hasResult:
		sub.Status = models.StatusCompleted
	default:
		sub.Status = models.StatusPending
	}
	return sub
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// parseTime accepts RFC 3339 and the naive ISO timestamps the backend emits.
// Naive timestamps are taken as UTC. Unparseable input yields the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// IsNotFound reports whether err means the backend does not know the id.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
