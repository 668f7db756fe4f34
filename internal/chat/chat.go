// Package chat runs question-and-answer sessions about one submission's review.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/logging"
	"github.com/joescharf/revu/internal/metrics"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/transport"
)

const (
	// WelcomeMessage opens every session. It is local and never sent to the backend.
	WelcomeMessage = "Hi! I can help you understand your code review. Ask me anything about the issues found, scores, or how to improve your code."

	// FallbackMessage replaces the assistant reply when a message fails.
	FallbackMessage = "Sorry, I encountered an error. Please try again."
)

// SuggestedQuestions are starter prompts offered to the user.
var SuggestedQuestions = []string{
	"Why did this get a low score?",
	"How do I fix the security issues?",
	"What's wrong with line 42?",
	"Can you explain the complexity warning?",
}

// State is the lifecycle state of a Session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateWaiting       State = "waiting"
	StateError         State = "error"
)

// Requester is the part of transport.Client the manager needs.
type Requester interface {
	Do(ctx context.Context, method, path string, body transport.Body) (*transport.Response, error)
}

// Manager opens chat sessions against the backend.
type Manager struct {
	t       Requester
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New returns a Manager issuing requests through t.
func New(t Requester, opts ...Option) *Manager {
	m := &Manager{t: t}
	for _, o := range opts {
		o(m)
	}
	m.logger = logging.OrNop(m.logger)
	return m
}

// Session is one conversation bound to a single submission. It is safe for
// concurrent use; a Send made while another is waiting is rejected.
type Session struct {
	m            *Manager
	submissionID string
	createdAt    time.Time

	mu      sync.Mutex
	id      string
	state   State
	history []models.ChatMessage
	err     error
}

// Open starts a session for submissionID. On failure the returned session is
// in the error state and keeps the error; there is no retry.
func (m *Manager) Open(ctx context.Context, submissionID string) (*Session, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return nil, apperr.Validation("submission id is required")
	}
	s := &Session{m: m, submissionID: submissionID, state: StateUninitialized, createdAt: time.Now().UTC()}

	q := url.Values{"submission_id": {submissionID}}
	resp, err := m.t.Do(ctx, http.MethodPost, "/api/v1/chat/start?"+q.Encode(), nil)
	if err == nil {
		if id := gjson.GetBytes(resp.Body, "session_id").String(); id != "" {
			s.id = id
		} else {
			err = &transport.Error{Kind: transport.KindDecode, Message: "chat start response carries no session_id"}
		}
	}
	if err != nil {
		err = fmt.Errorf("start chat for %s: %w", submissionID, err)
		s.state = StateError
		s.err = err
		m.logger.Warn("chat start failed", zap.String("submission", submissionID), zap.Error(err))
		return s, err
	}

	s.history = []models.ChatMessage{{Role: models.RoleAssistant, Content: WelcomeMessage}}
	s.state = StateReady
	m.logger.Debug("chat started", zap.String("submission", submissionID), zap.String("session", s.id))
	return s, nil
}

// Send asks a question and returns the assistant's reply. A failed exchange
// yields FallbackMessage as the reply and records the failure in Err.
func (s *Session) Send(ctx context.Context, text string) (models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, apperr.Validation("message is empty")
	}

	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return models.ChatMessage{}, apperr.InvalidState("chat session is %s, not ready", state)
	}
	s.history = append(s.history, models.ChatMessage{Role: models.RoleUser, Content: text})
	s.state = StateWaiting
	id := s.id
	s.mu.Unlock()

	content, err := s.m.exchange(ctx, id, text)
	outcome := "ok"
	if err != nil {
		outcome = "fallback"
		content = FallbackMessage
		s.m.logger.Warn("chat message failed", zap.String("session", id), zap.Error(err))
	}
	s.m.metrics.ChatTurn(outcome)

	reply := models.ChatMessage{Role: models.RoleAssistant, Content: content}
	s.mu.Lock()
	s.history = append(s.history, reply)
	s.state = StateReady
	s.err = err
	s.mu.Unlock()
	return reply, nil
}

func (m *Manager) exchange(ctx context.Context, sessionID, text string) (string, error) {
	q := url.Values{"message": {text}}
	path := fmt.Sprintf("/api/v1/chat/%s/message?%s", url.PathEscape(sessionID), q.Encode())
	resp, err := m.t.Do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	raw, err := resp.JSON()
	if err != nil {
		return "", err
	}
	answer := gjson.GetBytes(raw, "assistant_response")
	if answer.Type != gjson.String || strings.TrimSpace(answer.Str) == "" {
		return "", &transport.Error{Kind: transport.KindDecode, Message: "chat reply carries no assistant_response"}
	}
	return answer.Str, nil
}

// History returns a copy of the conversation so far, oldest first.
func (s *Session) History() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error from Open, or from the most recent Send.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ID is the backend session id, empty if Open failed.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) SubmissionID() string { return s.submissionID }

// Transcript snapshots the session for saving.
func (s *Session) Transcript() *models.ChatTranscript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.ChatTranscript{
		SubmissionID: s.submissionID,
		SessionID:    s.id,
		Messages:     slices.Clone(s.history),
		CreatedAt:    s.createdAt,
	}
}
