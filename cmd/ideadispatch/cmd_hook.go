package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
)

// errHookFailed marks a hook run whose result came back with ok=false.
var errHookFailed = errors.New("hook run failed")

type hookFlags struct {
	events string
	trial  bool
	dryRun bool
}

func (c *cli) hookCmd() *cobra.Command {
	var flags hookFlags
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Run artifact deltas through the dispatch pipeline",
		Long: "Reads a JSON array of artifact delta events (or {\"events\": [...]})\n" +
			"from --events or stdin, dispatches admitted clusters and appends them\n" +
			"to the ledger unless --dry-run is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd, flags.events)
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			events, err := decodeEvents(raw)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				var result app.HookResult
				if flags.trial {
					result, err = rt.svc.RunTrial(ctx, events, !flags.dryRun)
				} else {
					result, err = rt.svc.RunHook(ctx, events, !flags.dryRun)
				}
				if writeErr := writeJSON(cmd.OutOrStdout(), result); writeErr != nil {
					return writeErr
				}
				if err != nil {
					return err
				}
				rt.logger.Info("hook run evaluated",
					"trial", flags.trial,
					"persisted", !flags.dryRun && result.OK,
					"dispatched", len(result.Dispatched),
					"suppressed", result.Suppressed,
					"noop", result.Noop,
				)
				if !result.OK {
					return fmt.Errorf("%w: %s", errHookFailed, result.Error)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.events, "events", "-", "path to events JSON (- for stdin)")
	f.BoolVar(&flags.trial, "trial", false, "run in trial mode (shadow cycle, trial packets)")
	f.BoolVar(&flags.dryRun, "dry-run", false, "evaluate without appending to the ledger")
	return cmd
}

// decodeEvents accepts a bare array or an object with an events key.
func decodeEvents(raw []byte) ([]domain.ArtifactDeltaEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("no events supplied")
	}
	if raw[0] == '[' {
		var events []domain.ArtifactDeltaEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return events, nil
	}
	var wrapped struct {
		Events []domain.ArtifactDeltaEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return wrapped.Events, nil
}
