package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/entsync/internal/ir"
)

// CompileError reports a malformed manifest value.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileConnection parses one connection struct into a ConnectionManifest.
//
// The value should be the connection itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`connection: atem: { ... }`)
//	m, err := CompileConnection(v.LookupPath(cue.ParsePath("connection.atem")))
//
// Definitions keep their declaration order.
func CompileConnection(v cue.Value) (*ir.ConnectionManifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &ir.ConnectionManifest{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.ID = unquote(labels[len(labels)-1].String())
	}

	var err error
	if m.Label, err = optionalString(v, "label"); err != nil {
		return nil, err
	}

	idxVal := v.LookupPath(cue.ParsePath("upgrade_index"))
	if idxVal.Exists() {
		n, err := idxVal.Int64()
		if err != nil {
			return nil, &CompileError{Field: "upgrade_index", Message: "must be an integer", Pos: idxVal.Pos()}
		}
		m.UpgradeIndex = int(n)
	}

	builtinVal := v.LookupPath(cue.ParsePath("builtin"))
	if builtinVal.Exists() {
		if m.Builtin, err = builtinVal.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if m.Actions, err = compileDefinitions(v, "action", ir.KindAction); err != nil {
		return nil, err
	}
	if m.Feedbacks, err = compileDefinitions(v, "feedback", ir.KindFeedback); err != nil {
		return nil, err
	}
	return m, nil
}

func compileDefinitions(v cue.Value, path string, kind ir.EntityKind) ([]ir.Definition, error) {
	var defs []ir.Definition

	defsVal := v.LookupPath(cue.ParsePath(path))
	if !defsVal.Exists() {
		return defs, nil
	}

	iter, err := defsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		def, err := compileDefinition(iter.Value(), iter.Label(), kind)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func compileDefinition(v cue.Value, id string, kind ir.EntityKind) (ir.Definition, error) {
	def := ir.Definition{ID: id, Kind: kind}

	var err error
	if def.Label, err = optionalString(v, "label"); err != nil {
		return def, err
	}
	if kind == ir.KindFeedback {
		typ, err := optionalString(v, "type")
		if err != nil {
			return def, err
		}
		def.FeedbackType = ir.FeedbackType(typ)
		if def.FeedbackType == "" {
			def.FeedbackType = ir.FeedbackBoolean
		}
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return def, nil
	}
	list, err := fieldsVal.List()
	if err != nil {
		return def, formatCUEError(err)
	}
	for list.Next() {
		field, err := compileField(list.Value())
		if err != nil {
			return def, err
		}
		def.Fields = append(def.Fields, field)
	}
	return def, nil
}

func compileField(v cue.Value) (ir.OptionField, error) {
	var f ir.OptionField

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return f, &CompileError{Field: "fields.id", Message: "field id is required", Pos: v.Pos()}
	}
	id, err := idVal.String()
	if err != nil {
		return f, formatCUEError(err)
	}
	f.ID = id

	typ, err := optionalString(v, "type")
	if err != nil {
		return f, err
	}
	f.Type = ir.FieldType(typ)

	flags := []struct {
		name string
		dst  *bool
	}{
		{"use_variables", &f.UseVariables},
		{"is_expression", &f.IsExpression},
		{"skip_resubscribe", &f.SkipResubscribe},
	}
	for _, flag := range flags {
		fv := v.LookupPath(cue.ParsePath(flag.name))
		if !fv.Exists() {
			continue
		}
		if *flag.dst, err = fv.Bool(); err != nil {
			return f, formatCUEError(err)
		}
	}
	return f, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: path, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

// unquote strips the quotes CUE keeps on labels that are not identifiers,
// such as "companion-module-atem".
func unquote(label string) string {
	if len(label) >= 2 && label[0] == '"' && label[len(label)-1] == '"' {
		return label[1 : len(label)-1]
	}
	return label
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
