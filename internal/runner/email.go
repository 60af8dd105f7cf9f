package runner

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

type EmailRunner struct {
	mailer ports.Mailer
	from   string
}

func NewEmailRunner(mailer ports.Mailer, from string) *EmailRunner {
	return &EmailRunner{mailer: mailer, from: from}
}

func (r *EmailRunner) Execute(ctx context.Context, step domain.Step, scope *Scope) (Result, error) {
	to, err := requireString(step, "to")
	if err != nil {
		return Result{}, err
	}
	subject, err := requireString(step, "subject")
	if err != nil {
		return Result{}, err
	}
	body, err := requireString(step, "html")
	if err != nil {
		return Result{}, err
	}

	msg := ports.MailMessage{
		From:    optionalString(step, "from", r.from),
		To:      Resolve(to, scope),
		Subject: Resolve(subject, scope),
		HTML:    Resolve(body, scope),
	}
	if text := optionalString(step, "text", ""); text != "" {
		msg.Text = Resolve(text, scope)
	} else {
		msg.Text = HTMLToText(msg.HTML)
	}

	messageID, err := r.mailer.Send(ctx, msg)
	if err != nil {
		return Result{}, domain.ExternalService("mail", err)
	}

	return Result{Output: map[string]any{
		"messageId": messageID,
		"to":        msg.To,
		"subject":   msg.Subject,
		"sent":      true,
	}}, nil
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// HTMLToText strips markup, decodes entities and collapses whitespace.
func HTMLToText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
