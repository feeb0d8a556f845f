package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// Export file names match the file ledger's formats so an export can seed a file-backed install.
const (
	exportQueueFile     = "queue-state.json"
	exportTelemetryFile = "telemetry.ndjson"
	exportAuditFile     = "audit.json"
)

func (c *cli) exportCmd() *cobra.Command {
	var (
		outDir       string
		auditLimit   int
		snapshotPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger and audit trail to queue-state, telemetry and audit files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outDir = strings.TrimSpace(outDir)
			if outDir == "" {
				return errors.New("--out is required")
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("create export dir: %w", err)
				}
				doc, err := rt.svc.QueueState(ctx)
				if err != nil {
					return fmt.Errorf("load queue state: %w", err)
				}
				cycles, err := rt.svc.CycleSnapshots(ctx)
				if err != nil {
					return fmt.Errorf("list cycle snapshots: %w", err)
				}
				audit, err := rt.svc.AuditTrail(ctx, auditLimit)
				if err != nil {
					return fmt.Errorf("list audit trail: %w", err)
				}

				if err := writeJSONFile(filepath.Join(outDir, exportQueueFile), doc); err != nil {
					return err
				}
				telemetry, err := os.Create(filepath.Join(outDir, exportTelemetryFile))
				if err != nil {
					return fmt.Errorf("create telemetry export: %w", err)
				}
				w := bufio.NewWriter(telemetry)
				for _, cycle := range cycles {
					line, err := json.Marshal(cycle)
					if err != nil {
						_ = telemetry.Close()
						return fmt.Errorf("encode cycle %s: %w", cycle.CycleID, err)
					}
					_, _ = w.Write(line)
					_ = w.WriteByte('\n')
				}
				if err := w.Flush(); err != nil {
					_ = telemetry.Close()
					return fmt.Errorf("write telemetry export: %w", err)
				}
				if err := telemetry.Close(); err != nil {
					return fmt.Errorf("close telemetry export: %w", err)
				}
				if err := writeJSONFile(filepath.Join(outDir, exportAuditFile), audit); err != nil {
					return err
				}

				if snapshotPath = strings.TrimSpace(snapshotPath); snapshotPath != "" {
					snap, err := rt.svc.ExportSnapshot(ctx)
					if err != nil {
						return fmt.Errorf("export snapshot: %w", err)
					}
					if err := writeJSONFile(snapshotPath, snap); err != nil {
						return err
					}
				}

				rt.logger.Info("ledger exported", "dir", outDir, "entries", len(doc.Entries), "cycles", len(cycles), "audit_records", len(audit))
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries, %d cycles, %d audit records to %s\n", len(doc.Entries), len(cycles), len(audit), outDir)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	cmd.Flags().IntVar(&auditLimit, "audit-limit", 0, "newest audit records to export (0 for all)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "also write a portable ledger snapshot to this file")
	return cmd
}

// writeJSONFile writes one indented JSON document to path.
func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
