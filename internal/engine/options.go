package engine

import (
	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/variables"
)

// ParseOptions resolves the variable-capable fields of options.
//
// Only text fields flagged for variables or expressions are touched; every
// other key passes through as stored. The returned ids are the union of
// variables referenced by resolved fields, in field declaration order,
// leaving out fields marked SkipResubscribe. An expression that fails to
// evaluate resolves to null.
//
// ParseOptions does not modify options.
func ParseOptions(resolver OptionResolver, def *ir.Definition, options ir.IRObject, ctx variables.ParseContext) (ir.IRObject, []string) {
	resolved := options.Clone()
	if resolved == nil {
		resolved = ir.IRObject{}
	}
	if def == nil || resolver == nil {
		return resolved, nil
	}

	var ids []string
	seen := make(map[string]bool)
	collect := func(refs []string) {
		for _, id := range refs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	for _, field := range def.Fields {
		if !field.VariableCapable() {
			continue
		}
		raw, ok := options[field.ID].(ir.IRString)
		if !ok {
			continue
		}

		var refs []string
		if field.IsExpression {
			value, used, err := resolver.Evaluate(string(raw), ctx)
			refs = used
			if err != nil || value == nil {
				value = ir.IRNull{}
			}
			resolved[field.ID] = value
		} else {
			res := resolver.Resolve(string(raw), ctx)
			refs = res.VariableIDs
			resolved[field.ID] = ir.IRString(res.Text)
		}

		if !field.SkipResubscribe {
			collect(refs)
		}
	}

	return resolved, ids
}
