package testutil

import "github.com/roach88/entsync/internal/ir"

// Definitions is a fixed definition table.
type Definitions struct {
	byKey map[string]*ir.Definition
}

// NewDefinitions indexes defs by kind and id.
func NewDefinitions(defs ...ir.Definition) *Definitions {
	d := &Definitions{byKey: make(map[string]*ir.Definition, len(defs))}
	for i := range defs {
		def := defs[i]
		d.byKey[def.Kind.String()+"/"+def.ID] = &def
	}
	return d
}

// Definition implements the engine's definition lookup.
func (d *Definitions) Definition(kind ir.EntityKind, id string) (*ir.Definition, bool) {
	def, ok := d.byKey[kind.String()+"/"+id]
	return def, ok
}
