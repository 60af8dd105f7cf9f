package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/skalaliya/agent.algorythmos/internal/adapters/http"
	"github.com/skalaliya/agent.algorythmos/internal/bootstrap"
)

func main() {
	var embedded bool

	cmd := bootstrap.NewCommand("api-server", "Serve the workflow control API", func(ctx context.Context, cmd *cobra.Command, c *bootstrap.Components) error {
		logger := c.Logger
		gin.SetMode(gin.ReleaseMode)

		router := httpAdapter.NewRouter(
			httpAdapter.NewWorkflowHandler(c.WorkflowService()),
			httpAdapter.NewRunHandler(c.RunService()),
			logger,
		)
		srv := &http.Server{
			Addr:    c.Config.HTTP.Addr,
			Handler: router,
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("starting api server", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Config.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if embedded {
			worker, err := c.Worker(ctx)
			if err != nil {
				return err
			}
			g.Go(func() error {
				err := worker.ProcessJobs([]string{c.Config.Queue.Name})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return worker.Stop(stopCtx)
			})
			g.Go(func() error {
				return c.SchedulerRunner().Start(ctx)
			})
		}

		err := g.Wait()
		logger.Info("server exited")
		return err
	})
	cmd.Flags().BoolVar(&embedded, "embedded", false, "also run the worker and scheduler in this process (required with the memory queue)")

	bootstrap.Execute(cmd)
}
