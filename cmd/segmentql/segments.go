package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/segmentation"
)

func segmentsCmd(rt *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "Preview filters and resolve saved segments",
	}
	cmd.AddCommand(
		segmentsListCmd(rt),
		segmentsPreviewCmd(rt),
		segmentsResolveCmd(rt),
	)
	return cmd
}

func segmentsListCmd(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			segs, err := a.segments.ListSegments(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSIZE\tAUTO\tUSED")
			for _, seg := range segs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\n", seg.ID, seg.Name, seg.EstimatedSize, seg.AutoUpdate, seg.UsageCount)
			}
			return tw.Flush()
		},
	}
}

func segmentsPreviewCmd(rt *cli) *cobra.Command {
	var (
		criteriaPath string
		policy       string
		sample       int
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Evaluate draft filter criteria without saving them",
		Long: `Evaluates filter criteria read from --criteria (a JSON file, or - for stdin)
and prints the match count, a sample of matching contacts and any invalid
conditions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := readCriteria(criteriaPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			p, err := parsePolicyFlag(policy, collector.PolicyBestEffort)
			if err != nil {
				return err
			}

			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			preview, err := a.segmentation.Preview(cmd.Context(), segmentation.PreviewRequest{
				Criteria:   criteria,
				Session:    "cli",
				Policy:     p,
				SampleSize: sample,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"size":       preview.Size,
				"scanned":    preview.Scanned,
				"complete":   len(preview.Missing) == 0,
				"sample":     preview.Sample,
				"missing":    preview.Missing,
				"violations": preview.Violations,
			})
		},
	}
	cmd.Flags().StringVar(&criteriaPath, "criteria", "-", "Criteria JSON file, or - for stdin")
	cmd.Flags().StringVar(&policy, "policy", "", "Batch failure policy (strict, best-effort)")
	cmd.Flags().IntVar(&sample, "sample", 10, "Number of matching contacts to print")
	return cmd
}

const resolveHelp = `Consult a saved segment and record its use.

Auto-updating segments are re-evaluated. Snapshot segments report their stored
size without evaluation; --ids lists their current matches without touching
the stored size.`

func segmentsResolveCmd(rt *cli) *cobra.Command {
	var (
		policy  string
		idsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <segment-id>",
		Short: "Consult a saved segment and record its use",
		Long:  resolveHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid segment id: %w", err)
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

			resolve := a.segmentation.ResolveSegment
			if idsOnly {
				resolve = a.segmentation.SegmentMembers
			}
			res, err := resolve(cmd.Context(), id, p)
			if err != nil {
				return err
			}
			if idsOnly {
				for _, rec := range res.Records {
					fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
				}
				return nil
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"segment":  res.Segment,
				"size":     res.Size,
				"live":     res.Live,
				"complete": len(res.Missing) == 0,
				"records":  res.Records,
				"missing":  res.Missing,
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "Batch failure policy (strict, best-effort)")
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "Print only matching contact ids")
	return cmd
}
