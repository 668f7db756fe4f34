package store

import (
	"context"

	"github.com/joescharf/revu/internal/models"
)

// SubmissionFilter narrows ListSubmissions. Zero values match everything.
type SubmissionFilter struct {
	Status  models.Status
	BatchID string
	Limit   int
}

// Store is the local history of submissions this client made and the chat
// transcripts saved about them.
type Store interface {
	// Submissions
	SaveSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*models.Submission, error)
	DeleteSubmission(ctx context.Context, id string) error

	// Chat transcripts
	SaveTranscript(ctx context.Context, tr *models.ChatTranscript) error
	GetTranscript(ctx context.Context, id string) (*models.ChatTranscript, error)
	ListTranscripts(ctx context.Context, submissionID string) ([]*models.ChatTranscript, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
