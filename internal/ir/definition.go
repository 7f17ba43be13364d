package ir

// FieldType names the input widget an option field is edited with.
type FieldType string

const (
	FieldTextInput     FieldType = "textinput"
	FieldNumber        FieldType = "number"
	FieldCheckbox      FieldType = "checkbox"
	FieldDropdown      FieldType = "dropdown"
	FieldMultiDropdown FieldType = "multidropdown"
	FieldColor         FieldType = "colorpicker"
	FieldStatic        FieldType = "static-text"
)

// ValidFieldTypes defines allowed option field types.
var ValidFieldTypes = map[FieldType]bool{
	FieldTextInput:     true,
	FieldNumber:        true,
	FieldCheckbox:      true,
	FieldDropdown:      true,
	FieldMultiDropdown: true,
	FieldColor:         true,
	FieldStatic:        true,
}

// FeedbackType distinguishes how a feedback contributes to rendering.
type FeedbackType string

const (
	// FeedbackBoolean feedbacks return true/false and apply a fixed style.
	FeedbackBoolean FeedbackType = "boolean"
	// FeedbackAdvanced feedbacks return a style and may draw images, so the
	// host needs to know the control's bitmap size.
	FeedbackAdvanced FeedbackType = "advanced"
	// FeedbackValue feedbacks return an arbitrary value for use in expressions.
	FeedbackValue FeedbackType = "value"
)

// OptionField describes one option of an entity definition.
type OptionField struct {
	ID   string    `json:"id"`
	Type FieldType `json:"type"`

	// UseVariables marks a text field whose value may contain variable
	// references that must be resolved before the host sees it.
	UseVariables bool `json:"use_variables,omitempty"`

	// IsExpression marks a field whose resolved text is evaluated as an
	// expression; the result replaces the text.
	IsExpression bool `json:"is_expression,omitempty"`

	// SkipResubscribe excludes the field's variable references from the
	// set that triggers a resend when a variable changes.
	SkipResubscribe bool `json:"skip_resubscribe,omitempty"`
}

// VariableCapable reports whether the field participates in variable resolution.
func (f OptionField) VariableCapable() bool {
	return f.Type == FieldTextInput && (f.UseVariables || f.IsExpression)
}

// Definition describes one capability (action or feedback) of a connection.
type Definition struct {
	ID           string        `json:"id"`
	Kind         EntityKind    `json:"kind"`
	Label        string        `json:"label"`
	Fields       []OptionField `json:"fields"`
	FeedbackType FeedbackType  `json:"feedback_type,omitempty"`
}

// Field returns the named option field, if declared.
func (d *Definition) Field(id string) (OptionField, bool) {
	for _, f := range d.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return OptionField{}, false
}

// OrderedKeys returns the keys of opts with declared fields first, in
// declaration order, followed by undeclared keys in canonical order.
func (d *Definition) OrderedKeys(opts IRObject) []string {
	keys := make([]string, 0, len(opts))
	seen := make(map[string]bool, len(opts))
	if d != nil {
		for _, f := range d.Fields {
			if _, ok := opts[f.ID]; ok {
				keys = append(keys, f.ID)
				seen[f.ID] = true
			}
		}
	}
	for _, k := range opts.SortedKeys() {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// ConnectionManifest is the compiled description of one connection's module.
type ConnectionManifest struct {
	ID           string       `json:"id"`
	Label        string       `json:"label"`
	UpgradeIndex int          `json:"upgrade_index"`
	Builtin      bool         `json:"builtin,omitempty"`
	Actions      []Definition `json:"actions"`
	Feedbacks    []Definition `json:"feedbacks"`
}
