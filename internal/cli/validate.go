package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/manifest"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	Connections []ConnectionSummary `json:"connections"`
	Errors      []ManifestIssue     `json:"errors,omitempty"`
}

// ConnectionSummary describes one compiled connection manifest.
type ConnectionSummary struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	UpgradeIndex int    `json:"upgrade_index"`
	Actions      int    `json:"actions"`
	Feedbacks    int    `json:"feedbacks"`
}

// ManifestIssue is one compile or validation problem.
type ManifestIssue struct {
	Connection string `json:"connection,omitempty"`
	Field      string `json:"field,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (i ManifestIssue) String() string {
	if i.Connection == "" {
		return fmt.Sprintf("[%s] %s", i.Code, i.Message)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", i.Code, i.Connection, i.Field, i.Message)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifests-dir>",
		Short: "Validate connection manifests",
		Long: `Compile and validate the CUE connection manifests in a directory.

Reports every problem found: malformed connections, duplicate option
fields, unknown field or feedback types, misused variable flags.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	registry, issues, err := loadManifests(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	result := ValidationResult{
		Valid:       len(issues) == 0,
		Connections: summarize(registry),
		Errors:      issues,
	}
	for _, c := range result.Connections {
		formatter.VerboseLog("connection %s: %d action(s), %d feedback(s), upgrade index %d",
			c.ID, c.Actions, c.Feedbacks, c.UpgradeIndex)
	}

	if !result.Valid {
		if opts.Format == "json" {
			if err := formatter.Error(issues[0].Code, fmt.Sprintf("%d manifest problem(s)", len(issues)), result); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✗ %d manifest problem(s)\n", len(issues))
			for _, issue := range issues {
				fmt.Fprintf(w, "  %s\n", issue)
			}
		}
		return NewExitError(ExitFailure, "manifest validation failed")
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d connection(s) valid\n", len(result.Connections))
	return nil
}

// loadManifests loads and validates a manifest directory. A non-nil error
// means nothing could be loaded; issues are problems with individual
// connections.
func loadManifests(dir string) (*manifest.Registry, []ManifestIssue, error) {
	registry, errs := manifest.LoadDir(dir)
	if registry == nil {
		if len(errs) == 0 {
			return nil, nil, fmt.Errorf("no manifests loaded from %s", dir)
		}
		return nil, nil, errs[0]
	}

	var issues []ManifestIssue
	for _, err := range errs {
		issue := ManifestIssue{Code: manifest.ErrCodeGeneric, Message: err.Error()}
		var le *manifest.LoadError
		if errors.As(err, &le) {
			issue.Code = le.Code
			issue.Message = le.Message
		}
		issues = append(issues, issue)
	}
	for _, m := range registry.Manifests() {
		for _, ve := range manifest.Validate(m) {
			issues = append(issues, ManifestIssue{
				Connection: m.ID,
				Field:      ve.Field,
				Code:       ve.Code,
				Message:    ve.Message,
			})
		}
	}
	return registry, issues, nil
}

func summarize(registry *manifest.Registry) []ConnectionSummary {
	out := []ConnectionSummary{}
	for _, m := range registry.Manifests() {
		out = append(out, summary(m))
	}
	return out
}

func summary(m *ir.ConnectionManifest) ConnectionSummary {
	return ConnectionSummary{
		ID:           m.ID,
		Label:        m.Label,
		UpgradeIndex: m.UpgradeIndex,
		Actions:      len(m.Actions),
		Feedbacks:    len(m.Feedbacks),
	}
}

// outputLoadError reports a manifest directory that could not be loaded.
func outputLoadError(f *OutputFormatter, err error) error {
	code := manifest.ErrCodeGeneric
	message := err.Error()
	var le *manifest.LoadError
	if errors.As(err, &le) {
		code = le.Code
		message = le.Message
	}
	return f.Fail(ExitCommandError, code, message, nil)
}
