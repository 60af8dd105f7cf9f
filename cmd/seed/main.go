package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skalaliya/agent.algorythmos/internal/bootstrap"
	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

func main() {
	cmd := bootstrap.NewCommand("seed [files or directories...]", "Load YAML or JSON workflow definitions", func(ctx context.Context, cmd *cobra.Command, c *bootstrap.Components) error {
		files, err := collect(cmd.Flags().Args())
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no definition files given")
		}

		service := c.WorkflowService()
		existing, err := service.ListWorkflows(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]*domain.Workflow, len(existing))
		for _, wf := range existing {
			byName[wf.Name] = wf
		}

		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			def, err := domain.ParseDefinition(data, domain.FormatFromPath(path))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			wf := domain.NewWorkflow(def)

			if prev, ok := byName[wf.Name]; ok {
				wf.ID = prev.ID
				if err := service.UpdateWorkflow(ctx, wf); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				c.Logger.Info("updated workflow", slog.String("file", path), slog.String("workflow_id", wf.ID))
				continue
			}
			if err := service.CreateWorkflow(ctx, wf); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			byName[wf.Name] = wf
			c.Logger.Info("created workflow", slog.String("file", path), slog.String("workflow_id", wf.ID))
		}
		return nil
	})
	cmd.Args = cobra.MinimumNArgs(1)

	bootstrap.Execute(cmd)
}

// collect expands directories into their .yaml, .yml and .json files.
func collect(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	}
	return files, nil
}
