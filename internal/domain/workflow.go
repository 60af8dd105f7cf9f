package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Step type tags understood by the default runner registry.
const (
	StepTypeAI           = "ai"
	StepTypeEmail        = "email.send"
	StepTypeNotification = "notification"
	StepTypeSearchPosts  = "linkedin.searchPosts"
	StepTypeSearch       = "search"
	StepTypeTable        = "table.constants"
	StepTypeLoop         = "loop"
	StepTypeLog          = "log"
)

type Step struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Children []Step         `json:"children,omitempty" yaml:"children,omitempty"`
}

// ChildSteps returns the loop body, read from Children or, failing that,
// from input.children.
func (s Step) ChildSteps() ([]Step, error) {
	if len(s.Children) > 0 {
		return s.Children, nil
	}
	raw, ok := s.Input["children"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, Validation("step %s: children: %v", s.ID, err)
	}
	var children []Step
	if err := json.Unmarshal(data, &children); err != nil {
		return nil, Validation("step %s: children must be a list of steps", s.ID)
	}
	return children, nil
}

type Definition struct {
	Name     string `json:"name" yaml:"name"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Steps    []Step `json:"steps" yaml:"steps"`
}

// Validate checks the structural rules the executor relies on: every step
// has an id and a type, and top-level ids are unique.
func (d Definition) Validate() error {
	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if err := validateStep(step); err != nil {
			return err
		}
		if _, dup := seen[step.ID]; dup {
			return Validation("steps[%d]: duplicate step id %q", i, step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}

func validateStep(step Step) error {
	if strings.TrimSpace(step.ID) == "" {
		return Validation("step id is required")
	}
	if strings.TrimSpace(step.Type) == "" {
		return Validation("step %s: type is required", step.ID)
	}
	for _, child := range step.Children {
		if err := validateStep(child); err != nil {
			return err
		}
	}
	return nil
}

// ParseDefinition decodes a definition document. format is "yaml" or "json";
// an empty format is treated as JSON.
func ParseDefinition(data []byte, format string) (Definition, error) {
	var def Definition
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return Definition{}, Validation("invalid yaml definition: %v", err)
		}
	case "", "json":
		if err := json.Unmarshal(data, &def); err != nil {
			return Definition{}, Validation("invalid json definition: %v", err)
		}
	default:
		return Definition{}, Validation("unsupported definition format %q", format)
	}
	return def, def.Validate()
}

// FormatFromPath maps a file extension to a ParseDefinition format.
func FormatFromPath(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

type Workflow struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	Definition              Definition `json:"definition"`
	Schedule                string     `json:"schedule,omitempty"`
	Timezone                string     `json:"timezone,omitempty"`
	LastScheduledOccurrence *time.Time `json:"lastScheduledOccurrence,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// NewWorkflow builds a workflow from its definition; name, schedule and
// timezone default to the definition's own values.
func NewWorkflow(def Definition) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:         uuid.New().String(),
		Name:       def.Name,
		Definition: def,
		Schedule:   def.Schedule,
		Timezone:   def.Timezone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return Validation("workflow name is required")
	}
	if err := w.Definition.Validate(); err != nil {
		return fmt.Errorf("workflow %q: %w", w.Name, err)
	}
	return nil
}
