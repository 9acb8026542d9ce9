package main

import (
	"context"
	"fmt"
	"time"

	"github.com/you-humble/musicgen/internal/app"
	"github.com/you-humble/musicgen/internal/domain"

	"github.com/spf13/cobra"
)

const closeTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "musicgen",
		Short:         "Generate music through the musicgen gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the YAML config (default $MUSICGEN_CONFIG or ./configs/local.yaml)")

	consumer := func(cmd *cobra.Command, run func(ctx context.Context, c *app.Consumer) error) error {
		c := app.NewConsumer(cfgPath)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = c.Close(ctx)
		}()

		if err := run(cmd.Context(), c); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), domain.UserMessage(err))
			return err
		}
		return nil
	}

	root.AddCommand(
		newGenerateCmd(consumer),
		newHealthCmd(consumer),
		newStatusCmd(consumer),
	)
	return root
}

type consumerRunner func(cmd *cobra.Command, run func(ctx context.Context, c *app.Consumer) error) error

func newHealthCmd(withConsumer consumerRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the music service is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConsumer(cmd, func(ctx context.Context, c *app.Consumer) error {
				status, err := c.Health(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "healthy (status %d)\n", status)
				return nil
			})
		},
	}
}

func newStatusCmd(withConsumer consumerRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the current upstream status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsumer(cmd, func(ctx context.Context, c *app.Consumer) error {
				raw, err := c.Status(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "task %s: %s", args[0], domain.NormalizeStatus(raw.Status))
				if raw.Progress != "" {
					fmt.Fprintf(out, " (%s)", raw.Progress)
				}
				fmt.Fprintln(out)
				if raw.FailReason != "" {
					fmt.Fprintf(out, "reason: %s\n", raw.FailReason)
				}
				printTracks(out, raw.Tracks)
				return nil
			})
		},
	}
}
