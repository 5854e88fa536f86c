package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/export"
)

func exportCmd(rt *cli) *cobra.Command {
	var (
		format string
		policy string
		out    string
		dir    string
	)

	cmd := &cobra.Command{
		Use:   "export <segment|list> <id>",
		Short: "Write the contacts of a segment or list to a CSV or XLSX file",
		Long: `Writes the contacts of a segment or list to a file.

Without --out the file is named after the segment or list and written to
--dir. Use --out - to write to stdout.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(export.SourceSegment), string(export.SourceList)},
		RunE: func(cmd *cobra.Command, args []string) error {
			var source export.Source
			switch args[0] {
			case "segment", "segments":
				source = export.SourceSegment
			case "list", "lists":
				source = export.SourceList
			default:
				return fmt.Errorf("unknown export source %q, expected segment or list", args[0])
			}
			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid %s id: %w", source, err)
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			p, err := parsePolicyFlag(policy, collector.PolicyStrict)
			if err != nil {
				return err
			}

			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var buf bytes.Buffer
			res, err := a.exports.Export(cmd.Context(), &buf, export.Request{
				Source: source,
				ID:     id,
				Format: f,
				Policy: p,
			})
			if err != nil {
				return err
			}
			if !res.Complete {
				rt.logger.Warn("export is missing records from failed batches", "rows", res.Rows)
			}

			if out == "-" {
				_, err := buf.WriteTo(cmd.OutOrStdout())
				return err
			}
			if out == "" {
				out = filepath.Join(dir, res.Filename)
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", res.Rows, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "File format (csv, xlsx)")
	cmd.Flags().StringVar(&policy, "policy", "", "Batch failure policy (strict, best-effort)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path, or - for stdout")
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory for generated file names")
	return cmd
}
