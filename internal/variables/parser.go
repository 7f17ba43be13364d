package variables

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/entsync/internal/ir"
)

// UnknownValue is substituted for references to variables that do not exist.
const UnknownValue = "$NA"

// maxDepth bounds nested reference resolution, e.g. $(a:list_$(b:index)).
const maxDepth = 10

// referencePattern matches the innermost $(label:name) reference.
// Excluding '$' from both groups makes nested references resolve inside-out.
var referencePattern = regexp.MustCompile(`\$\(([^:$)]+):([^)$]+)\)`)

// Local labels resolve against the control the entity belongs to instead of
// the global variable table.
const (
	LabelThis  = "this"
	LabelLocal = "local"
)

// ParseContext scopes a resolution to the control that owns the entity.
type ParseContext struct {
	ControlID string
}

// Result is the outcome of resolving one text.
type Result struct {
	Text string
	// VariableIDs lists every referenced variable id ("label:name") in
	// first-seen order, including references that resolved to UnknownValue.
	VariableIDs []string
}

// Values is the variable table a Parser reads from.
type Values interface {
	// Value returns the value of a global variable id ("label:name").
	Value(id string) (ir.IRValue, bool)
	// LocalValue returns a control-local variable.
	LocalValue(controlID, name string) (ir.IRValue, bool)
}

// Parser resolves $(label:name) references in option text.
type Parser struct {
	values Values
}

// NewParser creates a parser reading from values.
func NewParser(values Values) *Parser {
	return &Parser{values: values}
}

// Resolve replaces every variable reference in text with its current value
// and reports which variable ids were used.
func (p *Parser) Resolve(text string, ctx ParseContext) Result {
	var ids []string
	seen := make(map[string]bool)

	for depth := 0; depth < maxDepth; depth++ {
		if !strings.Contains(text, "$(") {
			break
		}
		replaced := false
		text = referencePattern.ReplaceAllStringFunc(text, func(ref string) string {
			m := referencePattern.FindStringSubmatch(ref)
			label, name := m[1], m[2]
			id := label + ":" + name
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
			replaced = true

			v, ok := p.lookup(label, name, ctx)
			if !ok {
				return UnknownValue
			}
			return Text(v)
		})
		if !replaced {
			break
		}
	}

	return Result{Text: text, VariableIDs: ids}
}

func (p *Parser) lookup(label, name string, ctx ParseContext) (ir.IRValue, bool) {
	if p.values == nil {
		return nil, false
	}
	if label == LabelThis || label == LabelLocal {
		if ctx.ControlID == "" {
			return nil, false
		}
		return p.values.LocalValue(ctx.ControlID, name)
	}
	return p.values.Value(label + ":" + name)
}

// Text renders a variable value the way it appears when interpolated.
func Text(v ir.IRValue) string {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return ""
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return strconv.FormatInt(int64(val), 10)
	case ir.IRFloat:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case ir.IRBool:
		return strconv.FormatBool(bool(val))
	default:
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			return UnknownValue
		}
		return string(data)
	}
}
