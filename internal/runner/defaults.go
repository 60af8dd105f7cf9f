package runner

import (
	"log/slog"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/ports"
)

type Dependencies struct {
	Completer ports.Completer
	Mailer    ports.Mailer
	Searcher  ports.PostSearcher
	Rates     *RateTable
	MailFrom  string
	Logger    *slog.Logger
}

// NewDefaultRegistry registers a runner for every built-in step type.
func NewDefaultRegistry(deps Dependencies) *Registry {
	reg := NewRegistry()

	ai := NewAIRunner(deps.Completer, deps.Rates)
	email := NewEmailRunner(deps.Mailer, deps.MailFrom)
	search := NewSearchRunner(deps.Searcher)

	_ = reg.Register(domain.StepTypeAI, ai)
	_ = reg.Register(domain.StepTypeEmail, email)
	_ = reg.Register(domain.StepTypeNotification, email)
	_ = reg.Register(domain.StepTypeSearchPosts, search)
	_ = reg.Register(domain.StepTypeSearch, search)
	_ = reg.Register(domain.StepTypeTable, TableRunner())
	_ = reg.Register(domain.StepTypeLog, NewLogRunner(deps.Logger))
	_ = reg.Register(domain.StepTypeLoop, NewLoopRunner(reg))

	return reg
}
