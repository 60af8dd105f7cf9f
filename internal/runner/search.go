package runner

import (
	"context"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

const DefaultSearchLimit = 10

type SearchRunner struct {
	searcher ports.PostSearcher
}

func NewSearchRunner(searcher ports.PostSearcher) *SearchRunner {
	return &SearchRunner{searcher: searcher}
}

func (r *SearchRunner) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	query, err := requireString(step, "query")
	if err != nil {
		return Result{}, err
	}
	limit := optionalInt(step, "limit", DefaultSearchLimit)
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	posts, err := r.searcher.SearchPosts(ctx, Resolve(query, scope), limit)
	if err != nil {
		return Result{}, domain.ExternalService("search", err)
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}

	out := make([]any, 0, len(posts))
	for _, p := range posts {
		out = append(out, map[string]any{
			"activityId":  p.ActivityID,
			"content":     p.Content,
			"author":      p.Author,
			"reactions":   p.Reactions,
			"comments":    p.Comments,
			"date":        p.Date.UTC().Format("2006-01-02T15:04:05Z07:00"),
			"activityUrl": p.ActivityURL,
			"shareUrl":    p.ShareURL,
		})
	}
	return Result{Output: out}, nil
}
