package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/entsync/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled connection manifests.
type CompilationResult struct {
	Connections []*ir.ConnectionManifest `json:"connections"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <manifests-dir>",
		Short: "Compile CUE manifests to entity definitions",
		Long: `Compile CUE connection manifests to the entity definitions the engine
serves: option fields with their variable flags, feedback types, and each
connection's current upgrade index. Manifests must also pass validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	registry, issues, err := loadManifests(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	if len(issues) > 0 {
		return outputCompileIssues(formatter, issues)
	}

	result := &CompilationResult{Connections: registry.Manifests()}
	for _, m := range result.Connections {
		formatter.VerboseLog("compiled connection %s", m.ID)
	}

	if opts.Output != "" {
		if err := writeManifests(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, "E_WRITE_FAILED", fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d connection(s)\n\n", len(result.Connections))
	for _, m := range result.Connections {
		s := summary(m)
		fmt.Fprintf(w, "  %s (%s): %d action(s), %d feedback(s), upgrade index %d\n",
			s.ID, s.Label, s.Actions, s.Feedbacks, s.UpgradeIndex)
	}
	if opts.Output != "" {
		fmt.Fprintf(w, "\nWrote definitions to %s\n", opts.Output)
	}
	return nil
}

// outputCompileIssues reports every problem; compile problems are
// command-level errors (exit code 2).
func outputCompileIssues(f *OutputFormatter, issues []ManifestIssue) error {
	message := fmt.Sprintf("compilation failed with %d error(s)", len(issues))
	if f.Format == "json" {
		if err := f.Error(issues[0].Code, message, issues); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, message)
	}

	fmt.Fprintln(f.Writer, "✗ Compilation failed")
	fmt.Fprintln(f.Writer)
	for _, issue := range issues {
		fmt.Fprintf(f.Writer, "  %s\n", issue)
	}
	return NewExitError(ExitCommandError, message)
}

// writeManifests writes the compiled definitions as indented JSON.
func writeManifests(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
