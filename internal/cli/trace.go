package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/entsync/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Op     string // optional - filter to one host operation
	Entity string // optional - filter to calls that carry this entity
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Scenario string                   `json:"scenario"`
	Timeline []harness.TraceEvent     `json:"timeline"`
	Records  []harness.RecordSnapshot `json:"records"`
	Reported []string                 `json:"reported,omitempty"`
	Stats    TraceStats               `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalCalls int            `json:"total_calls"`
	ByOp       map[string]int `json:"by_op"`
	Deletes    int            `json:"deletes"`
	Pass       bool           `json:"pass"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario.yaml>",
		Short: "Show the host calls a scenario produces",
		Long: `Run one scenario and print the host calls it produced, step by step.

The output includes:
- Timeline: every update and upgrade batch with its members
- Records: the final state of each tracking record
- Stats: call counts per operation

Examples:
  entsync trace ./scenarios/upgrade_rename.yaml
  entsync trace ./scenarios/variable_change.yaml --op update_feedbacks
  entsync trace ./scenarios/variable_change.yaml --entity a1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to one host operation")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "filter to calls carrying an entity id")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	timeline := filterTrace(result.Trace, opts.Op, opts.Entity)
	out := TraceResult{
		Scenario: scenario.Name,
		Timeline: timeline,
		Records:  result.Records,
		Reported: result.Reported,
		Stats:    traceStats(timeline, result.Pass),
	}
	if out.Records == nil {
		out.Records = []harness.RecordSnapshot{}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, out)
	}
	return outputTraceText(cmd, out, opts.Verbose)
}

// filterTrace keeps the calls matching op and carrying entity, when set.
func filterTrace(trace []harness.TraceEvent, op, entity string) []harness.TraceEvent {
	out := []harness.TraceEvent{}
	for _, ev := range trace {
		if op != "" && ev.Op != op {
			continue
		}
		if entity != "" && !slices.Contains(ev.IDs, entity) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func traceStats(timeline []harness.TraceEvent, pass bool) TraceStats {
	stats := TraceStats{TotalCalls: len(timeline), ByOp: map[string]int{}, Pass: pass}
	for _, ev := range timeline {
		stats.ByOp[ev.Op]++
		stats.Deletes += len(ev.Deletes)
	}
	return stats
}

func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: "ok", Data: result})
}

func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s\n\n", result.Scenario)
	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no host calls)")
	}
	for _, ev := range result.Timeline {
		line := fmt.Sprintf("  [step %d] %-17s %s", ev.Step, ev.Op, strings.Join(ev.IDs, ", "))
		if ev.UpgradeIndex != 0 {
			line += fmt.Sprintf(" → index %d", ev.UpgradeIndex)
		}
		if len(ev.Deletes) > 0 {
			line += fmt.Sprintf(" (delete %s)", strings.Join(ev.Deletes, ", "))
		}
		fmt.Fprintln(w, line)
		if verbose {
			for _, id := range ev.IDs {
				if opts, ok := ev.Options[id]; ok {
					fmt.Fprintf(w, "      %s: %v\n", id, opts)
				}
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Records:")
	if len(result.Records) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, r := range result.Records {
		fmt.Fprintf(w, "  %s: %s\n", r.ID, r.State)
	}
	for _, msg := range result.Reported {
		fmt.Fprintf(w, "  ! %s\n", msg)
	}

	fmt.Fprintln(w)
	ops := make([]string, 0, len(result.Stats.ByOp))
	for op := range result.Stats.ByOp {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	fmt.Fprintf(w, "Stats: %d call(s)", result.Stats.TotalCalls)
	for _, op := range ops {
		fmt.Fprintf(w, ", %s=%d", op, result.Stats.ByOp[op])
	}
	fmt.Fprintf(w, ", %d delete(s)\n", result.Stats.Deletes)
	return nil
}
