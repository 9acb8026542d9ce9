package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/you-humble/musicgen/internal/app"
	"github.com/you-humble/musicgen/internal/domain"
	"github.com/you-humble/musicgen/internal/reconciler"

	"github.com/spf13/cobra"
)

func newGenerateCmd(withConsumer consumerRunner) *cobra.Command {
	var (
		model      string
		webhookURL string
	)

	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Submit a music description and wait for the tracks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsumer(cmd, func(ctx context.Context, c *app.Consumer) error {
				out := cmd.OutOrStdout()

				taskID, err := c.Submit(ctx, domain.GenerationRequest{
					Prompt:     strings.Join(args, " "),
					Model:      model,
					WebhookURL: webhookURL,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "task %s created, waiting for the result (%s mode)\n", taskID, c.Mode())

				view := newProgressView(out)
				return c.Watch(ctx, taskID, reconciler.Callbacks{
					OnProgress: view.update,
					OnSuccess: func(tracks []domain.Track) {
						fmt.Fprintf(out, "done: %d track(s) ready\n", len(tracks))
						printTracks(out, tracks)
					},
				})
			})
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model name (defaults to upstream.model)")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "callback address overriding the configured one")
	return cmd
}

// progressView prints stage changes and announces tracks that become
// playable before the task completes.
type progressView struct {
	out       io.Writer
	lastStage string
	previewed map[string]bool
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{out: out, previewed: make(map[string]bool)}
}

func (v *progressView) update(p domain.Progress) {
	stage := stageFor(p)
	if stage != v.lastStage || p.Progress != "" {
		label := stage
		if p.Progress != "" {
			label = fmt.Sprintf("[%s] %s", p.Progress, stage)
		}
		fmt.Fprintln(v.out, label)
		v.lastStage = stage
	}

	for _, t := range previewTracks(p.Tracks) {
		if v.previewed[t.ID] {
			continue
		}
		v.previewed[t.ID] = true
		fmt.Fprintf(v.out, "preview ready: %s %s\n", trackTitle(t), t.AudioURL)
	}
}

func printTracks(out io.Writer, tracks []domain.Track) {
	for i, t := range tracks {
		fmt.Fprintf(out, "%d. %s", i+1, trackTitle(t))
		if t.Duration > 0 {
			fmt.Fprintf(out, " (%.0fs)", t.Duration)
		}
		fmt.Fprintln(out)
		if t.AudioURL != "" {
			fmt.Fprintf(out, "   audio: %s\n", t.AudioURL)
		}
		if t.ImageURL != "" {
			fmt.Fprintf(out, "   cover: %s\n", t.ImageURL)
		}
	}
}

func trackTitle(t domain.Track) string {
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}
