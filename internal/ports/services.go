package ports

import (
	"context"
	"time"
)

type CompletionRequest struct {
	Provider string
	Model    string
	Prompt   string
}

// Completer produces text for a prompt from an AI provider.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type MailMessage struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers a message and returns the transport's message id.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) (string, error)
}

type Post struct {
	ActivityID  string    `json:"activityId"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	Reactions   int       `json:"reactions"`
	Comments    int       `json:"comments"`
	Date        time.Time `json:"date"`
	ActivityURL string    `json:"activityUrl"`
	ShareURL    string    `json:"shareUrl"`
}

// PostSearcher returns at most limit posts matching query.
type PostSearcher interface {
	SearchPosts(ctx context.Context, query string, limit int) ([]Post, error)
}
