package main

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/tui"
)

// program is the part of tea.Program the browse command drives.
type program interface {
	Run() (tea.Model, error)
}

// programFactory is swapped in tests to avoid starting a terminal program.
var programFactory = func(m tea.Model, opts ...tea.ProgramOption) program {
	return tea.NewProgram(m, opts...)
}

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and transition dispatch queue entries",
	}
	cmd.AddCommand(c.queueShowCmd(), c.queueTransitionCmd(), c.queueBrowseCmd())
	return cmd
}

func (c *cli) queueShowCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the queue document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				doc, err := rt.svc.QueueState(ctx)
				if err != nil {
					return err
				}
				if state != "" {
					want := domain.NormalizeQueueState(domain.QueueState(state))
					if !domain.IsValidQueueState(want) {
						return fmt.Errorf("%w: %q", domain.ErrInvalidQueueState, state)
					}
					filtered := make([]domain.QueueEntry, 0, len(doc.Entries))
					for _, entry := range doc.Entries {
						if entry.QueueState == want {
							filtered = append(filtered, entry)
						}
					}
					doc.Entries = filtered
				}
				return writeJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only show entries in this state (enqueued, processed, blocked)")
	return cmd
}

func (c *cli) queueTransitionCmd() *cobra.Command {
	var to, actor string
	cmd := &cobra.Command{
		Use:   "transition <dispatch-id>",
		Short: "Move one enqueued entry to processed or blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				entry, err := rt.svc.TransitionEntry(ctx, args[0], domain.QueueState(to), actor)
				if err != nil {
					return err
				}
				rt.logger.Info("queue entry transitioned", "dispatch_id", entry.DispatchID, "state", entry.QueueState)
				return writeJSON(cmd.OutOrStdout(), entry)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target state (processed or blocked)")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded on the transition")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (c *cli) queueBrowseCmd() *cobra.Command {
	var actor, style string
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse the queue interactively and transition entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				m := tui.NewModel(
					rt.svc,
					tui.WithActor(firstNonEmpty(actor, rt.cfg.Business.Actor)),
					tui.WithMarkdownStyle(style),
					tui.WithKeyConfig(tui.KeyConfig{
						MarkProcessed: rt.cfg.Keys.MarkProcessed,
						MarkBlocked:   rt.cfg.Keys.MarkBlocked,
						CycleFilter:   rt.cfg.Keys.CycleFilter,
					}),
				)
				// The console sink would draw over the alt screen.
				rt.logger.SetConsoleEnabled(false)
				defer rt.logger.SetConsoleEnabled(!c.quiet)
				rt.logger.Info("starting tui program loop")
				if _, err := programFactory(m,
					tea.WithContext(ctx),
					tea.WithInput(cmd.InOrStdin()),
					tea.WithOutput(cmd.OutOrStdout()),
				).Run(); err != nil {
					return fmt.Errorf("run tui program: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded on transitions (defaults to business.actor)")
	cmd.Flags().StringVar(&style, "style", "dark", "glamour style for the packet view")
	return cmd
}
