package manifest

import (
	"fmt"

	"github.com/roach88/entsync/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrLabelEmpty           = "E201" // connection label is required
	ErrNegativeUpgradeIndex = "E202" // upgrade_index must be >= 0
	ErrNoDefinitions        = "E203" // connection declares no actions or feedbacks
	ErrFieldIDEmpty         = "E204" // option field without id
	ErrDuplicateField       = "E205" // option field id declared twice
	ErrInvalidFieldType     = "E206" // unknown option field type
	ErrInvalidFeedbackType  = "E207" // unknown feedback type
	ErrVariableFlagMisuse   = "E208" // variable flags on a non-text field
	ErrSkipWithoutVariables = "E209" // skip_resubscribe on a field that resolves nothing
)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var validFeedbackTypes = map[ir.FeedbackType]bool{
	ir.FeedbackBoolean:  true,
	ir.FeedbackAdvanced: true,
	ir.FeedbackValue:    true,
}

// Validate checks a compiled manifest. Returns all errors found.
func Validate(m *ir.ConnectionManifest) []ValidationError {
	var errs []ValidationError
	prefix := "connection." + m.ID

	if m.Label == "" {
		errs = append(errs, ValidationError{Field: prefix + ".label", Message: "label is required", Code: ErrLabelEmpty})
	}
	if m.UpgradeIndex < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".upgrade_index",
			Message: fmt.Sprintf("must not be negative, got %d", m.UpgradeIndex),
			Code:    ErrNegativeUpgradeIndex,
		})
	}
	if len(m.Actions) == 0 && len(m.Feedbacks) == 0 {
		errs = append(errs, ValidationError{Field: prefix, Message: "no actions or feedbacks declared", Code: ErrNoDefinitions})
	}

	for i := range m.Actions {
		errs = append(errs, validateDefinition(prefix+".action."+m.Actions[i].ID, &m.Actions[i])...)
	}
	for i := range m.Feedbacks {
		def := &m.Feedbacks[i]
		path := prefix + ".feedback." + def.ID
		if !validFeedbackTypes[def.FeedbackType] {
			errs = append(errs, ValidationError{
				Field:   path + ".type",
				Message: fmt.Sprintf("unknown feedback type %q", def.FeedbackType),
				Code:    ErrInvalidFeedbackType,
			})
		}
		errs = append(errs, validateDefinition(path, def)...)
	}
	return errs
}

func validateDefinition(path string, def *ir.Definition) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(def.Fields))

	for i, f := range def.Fields {
		fieldPath := fmt.Sprintf("%s.fields[%d]", path, i)
		if f.ID == "" {
			errs = append(errs, ValidationError{Field: fieldPath, Message: "field id is required", Code: ErrFieldIDEmpty})
		} else {
			if seen[f.ID] {
				errs = append(errs, ValidationError{
					Field:   fieldPath,
					Message: fmt.Sprintf("duplicate field id %q", f.ID),
					Code:    ErrDuplicateField,
				})
			}
			seen[f.ID] = true
		}

		if !ir.ValidFieldTypes[f.Type] {
			errs = append(errs, ValidationError{
				Field:   fieldPath + ".type",
				Message: fmt.Sprintf("unknown field type %q", f.Type),
				Code:    ErrInvalidFieldType,
			})
			continue
		}
		if (f.UseVariables || f.IsExpression) && f.Type != ir.FieldTextInput {
			errs = append(errs, ValidationError{
				Field:   fieldPath,
				Message: fmt.Sprintf("use_variables and is_expression require a %s field", ir.FieldTextInput),
				Code:    ErrVariableFlagMisuse,
			})
		}
		if f.SkipResubscribe && !f.VariableCapable() {
			errs = append(errs, ValidationError{
				Field:   fieldPath + ".skip_resubscribe",
				Message: "field does not resolve variables",
				Code:    ErrSkipWithoutVariables,
			})
		}
	}
	return errs
}
