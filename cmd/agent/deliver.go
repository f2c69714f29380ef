package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-paynotify/internal/agent/delivery"
)

func newWorker(e *env) (*delivery.Worker, error) {
	c, err := e.classifier()
	if err != nil {
		return nil, err
	}
	client := delivery.NewHTTPClient(e.cfg.BackendURL, e.cfg.Token, e.httpClient())
	return delivery.NewWorker(e.logger, e.store, c, client, e.cfg.DeviceUUID, e.cfg.Delivery.Timeout, e.cfg.Delivery.BatchSize), nil
}

func deliverCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Run one delivery pass over the pending captures",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			w, err := newWorker(e)
			if err != nil {
				return err
			}
			rep, err := w.RunOnce(cmd.Context())
			if err != nil && !errors.Is(err, delivery.ErrRetryable) {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "processed: %d\n", rep.Processed)
			fmt.Fprintf(out, "sent:      %d (duplicates %d)\n", rep.Sent, rep.Duplicate)
			fmt.Fprintf(out, "rejected:  %d\n", rep.Rejected)
			fmt.Fprintf(out, "failed:    %d\n", rep.Failed)
			return nil
		},
	}
}
