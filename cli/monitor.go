package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// Monitor job schedules.
const (
	failureCheckSchedule = "@every 30m"
	cacheCleanupSchedule = "@hourly"
	dueEnqueueSchedule   = "@hourly"
)

const shutdownTimeout = 10 * time.Second

func monitorCommand() *cobra.Command {
	var (
		addr     string
		dueLimit int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the periodic checks and serve the operator endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if addr == "" {
					addr = a.cfg.MetricsAddr
				}
				return runMonitor(cmd.Context(), a, addr, dueLimit)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to METRICS_ADDR)")
	cmd.Flags().IntVar(&dueLimit, "due-limit", 500, "listings queued per due scan")
	return cmd
}

func runMonitor(ctx context.Context, a *app, addr string, dueLimit int) error {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	jobs := []struct {
		schedule string
		name     string
		run      func()
	}{
		{failureCheckSchedule, "failure check", func() {
			if _, err := a.monitor.Check(ctx); err != nil {
				a.logger.Error("[monitor] failure check: %v", err)
			}
		}},
		{cacheCleanupSchedule, "cache cleanup", func() {
			flushed, err := a.cache.Cleanup(ctx)
			if err != nil {
				a.logger.Error("[monitor] cache cleanup: %v", err)
				return
			}
			if len(flushed) > 0 {
				a.logger.Info("[monitor] cache cleanup flushed %v", flushed)
			}
		}},
		{dueEnqueueSchedule, "due scan", func() {
			n, err := a.orch.EnqueueDue(ctx, dueLimit)
			if err != nil {
				a.logger.Error("[monitor] due scan: %v", err)
			}
			a.logger.Info("[monitor] due scan queued %d listings", n)
		}},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.schedule, j.run); err != nil {
			return err
		}
		a.logger.Info("[monitor] scheduled %s (%s)", j.name, j.schedule)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a.store, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("[monitor] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("[monitor] stopped")
	return nil
}
