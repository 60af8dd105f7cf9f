// Package search provides a post searcher backed by a fixed fixture set.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

type fixture struct {
	id        string
	template  string
	author    string
	handle    string
	reactions int
	comments  int
	date      string
	activity  int
}

var fixtures = []fixture{
	{"post_001", "Great insights on %s! This is exactly what the industry needs right now.", "John Smith", "johnsmith", 45, 12, "2024-01-15T10:30:00Z", 123},
	{"post_002", "Just published a new article about %s. Check it out and let me know your thoughts!", "Sarah Johnson", "sarahjohnson", 89, 23, "2024-01-14T14:15:00Z", 124},
	{"post_003", "The future of %s is here. Companies need to adapt or risk being left behind.", "Mike Chen", "mikechen", 156, 34, "2024-01-13T09:45:00Z", 125},
	{"post_004", "Excited to share our latest research findings on %s. The results are promising!", "Emily Davis", "emilydavis", 67, 18, "2024-01-12T16:20:00Z", 126},
	{"post_005", "%s has transformed how we think about business strategy. Here's why it matters.", "David Wilson", "davidwilson", 234, 56, "2024-01-11T11:10:00Z", 127},
}

// StaticSearcher returns the same five posts for every query, with the query
// woven into their content.
type StaticSearcher struct{}

func NewStaticSearcher() *StaticSearcher {
	return &StaticSearcher{}
}

var _ ports.PostSearcher = (*StaticSearcher)(nil)

func (s *StaticSearcher) SearchPosts(ctx context.Context, query string, limit int) ([]ports.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(fixtures) {
		limit = len(fixtures)
	}

	posts := make([]ports.Post, 0, limit)
	for _, f := range fixtures[:limit] {
		date, err := time.Parse(time.RFC3339, f.date)
		if err != nil {
			return nil, err
		}
		posts = append(posts, ports.Post{
			ActivityID:  f.id,
			Content:     fmt.Sprintf(f.template, query),
			Author:      f.author,
			Reactions:   f.reactions,
			Comments:    f.comments,
			Date:        date,
			ActivityURL: fmt.Sprintf("https://linkedin.com/feed/update/urn:li:activity:%d", f.activity),
			ShareURL:    fmt.Sprintf("https://linkedin.com/posts/%s_%d", f.handle, f.activity),
		})
	}
	return posts, nil
}
