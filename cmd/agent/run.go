package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-paynotify/internal/agent/capture"
	"github.com/go-paynotify/internal/agent/collab"
	"github.com/go-paynotify/internal/agent/scheduler"
)

const defaultBatteryPath = "/sys/class/power_supply/battery/capacity"

func runCmd(configPath *string) *cobra.Command {
	var batteryPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the capture listener and run the background tasks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			return run(cmd.Context(), e, batteryPath)
		},
	}
	cmd.Flags().StringVar(&batteryPath, "battery-path", defaultBatteryPath, "sysfs file holding the battery percentage")
	return cmd
}

func run(ctx context.Context, e *env, batteryPath string) error {
	allowlist, err := capture.LoadAllowlist(ctx, e.store)
	if err != nil {
		return err
	}
	handler := capture.NewHandler(e.logger, e.store, allowlist, e.cfg.Retention)

	worker, err := newWorker(e)
	if err != nil {
		return err
	}
	hc := e.httpClient()
	allowSync := collab.NewAllowlistSync(e.logger, e.cfg.BackendURL, e.cfg.Token, hc, allowlist)
	health := collab.NewHealthReporter(e.logger, e.cfg.BackendURL, e.cfg.Token, hc, e.cfg.DeviceUUID, collab.SystemHealth{
		BatteryPath: batteryPath,
		Checks: map[string]func(context.Context) bool{
			"outbox_writable": func(ctx context.Context) bool {
				_, err := e.store.Counts(ctx)
				return err == nil
			},
		},
	})

	sched := scheduler.New(e.logger,
		scheduler.WithProbe(scheduler.NewHTTPProbe(e.cfg.ProbeURL(), hc)),
		scheduler.WithBackoff(e.cfg.Schedule.BackoffInitial, e.cfg.Schedule.BackoffMax),
	)
	tasks := []scheduler.Task{
		{
			Name:         "deliver",
			Interval:     e.cfg.Schedule.DeliveryInterval,
			NeedsNetwork: true,
			Run: func(ctx context.Context) error {
				_, err := worker.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     "reset_failed",
			Interval: e.cfg.Schedule.ResetFailedInterval,
			Run: func(ctx context.Context) error {
				n, err := e.store.ResetFailed(ctx)
				if err == nil && n > 0 {
					e.logger.InfoContext(ctx, "failed captures requeued",
						"module", "agent.outbox",
						"operation", "reset_failed",
						"outcome", "success",
						"count", n,
					)
				}
				return err
			},
		},
		{
			Name:         "allowlist_sync",
			Interval:     e.cfg.Schedule.SyncInterval,
			NeedsNetwork: true,
			Run:          allowSync.Run,
		},
	}
	if e.cfg.DeviceUUID != "" {
		tasks = append(tasks, scheduler.Task{
			Name:         "health_report",
			Interval:     e.cfg.Schedule.HealthInterval,
			NeedsNetwork: true,
			Run:          health.Run,
		})
	}

	srv := &http.Server{
		Addr:              e.cfg.Capture.Listen,
		Handler:           capture.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.logger.Info("capture listener started",
			"module", "agent",
			"operation", "listen",
			"outcome", "success",
			"addr", srv.Addr,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sched.Run(ctx, tasks...) })

	err = g.Wait()
	e.logger.Info("agent stopped", "module", "agent", "operation", "shutdown", "outcome", "success")
	return err
}
