package ir

import "fmt"

// EntityKind is the closed set of entity kinds: Action or Feedback.
//
// Never switch on an EntityKind directly. Dispatch through MatchKind so that
// adding a kind becomes a compile error at every call site that must handle it.
type EntityKind struct {
	name string
}

var (
	// KindAction is a user-triggered action entity.
	KindAction = EntityKind{name: "action"}
	// KindFeedback is a feedback entity that renders state back onto a control.
	KindFeedback = EntityKind{name: "feedback"}
)

// String returns the wire name of the kind.
func (k EntityKind) String() string {
	if k.name == "" {
		return "invalid"
	}
	return k.name
}

// Valid reports whether k is one of the declared kinds.
func (k EntityKind) Valid() bool {
	return k == KindAction || k == KindFeedback
}

// MarshalText implements encoding.TextMarshaler.
func (k EntityKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid entity kind")
	}
	return []byte(k.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EntityKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseEntityKind converts a wire name to an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case KindAction.name:
		return KindAction, nil
	case KindFeedback.name:
		return KindFeedback, nil
	}
	return EntityKind{}, fmt.Errorf("unknown entity kind %q", s)
}

// MatchKind is the exhaustive dispatch over EntityKind.
// Panics on the zero EntityKind, which can only be produced by skipping
// ParseEntityKind.
func MatchKind[T any](k EntityKind, onAction func() T, onFeedback func() T) T {
	switch k {
	case KindAction:
		return onAction()
	case KindFeedback:
		return onFeedback()
	}
	panic(fmt.Sprintf("ir: unhandled entity kind %q", k.name))
}

// OnKind is MatchKind for branches that return nothing.
func OnKind(k EntityKind, onAction func(), onFeedback func()) {
	MatchKind(k,
		func() struct{} { onAction(); return struct{}{} },
		func() struct{} { onFeedback(); return struct{}{} },
	)
}

// Entity is an action or feedback instance attached to a control.
// The Authoritative Entity Store owns entities; everything else holds
// references or copies.
type Entity struct {
	ID           string     `json:"id"`
	Kind         EntityKind `json:"kind"`
	ConnectionID string     `json:"connection_id"`
	DefinitionID string     `json:"definition_id"`
	Options      IRObject   `json:"options"`

	// UpgradeIndex is the last schema version the entity was upgraded to.
	// nil means the entity was created against the current schema.
	UpgradeIndex *int `json:"upgrade_index,omitempty"`

	// Feedback-only fields.
	IsInverted bool     `json:"is_inverted,omitempty"`
	Style      IRObject `json:"style,omitempty"`
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	out := e
	out.Options = e.Options.Clone()
	out.Style = e.Style.Clone()
	if e.UpgradeIndex != nil {
		idx := *e.UpgradeIndex
		out.UpgradeIndex = &idx
	}
	return out
}

// NeedsUpgrade reports whether the entity must pass through host upgrade
// logic before it may be used at schema version current.
func (e Entity) NeedsUpgrade(current int) bool {
	return e.UpgradeIndex != nil && *e.UpgradeIndex != current
}

// WithUpgradeIndex returns a copy of e stamped with index.
func (e Entity) WithUpgradeIndex(index int) Entity {
	out := e.Clone()
	out.UpgradeIndex = &index
	return out
}

func (e Entity) toObject() IRObject {
	opts := e.Options
	if opts == nil {
		opts = IRObject{}
	}
	obj := IRObject{
		"id":            IRString(e.ID),
		"kind":          IRString(e.Kind.String()),
		"connection_id": IRString(e.ConnectionID),
		"definition_id": IRString(e.DefinitionID),
		"options":       opts,
	}
	if e.UpgradeIndex != nil {
		obj["upgrade_index"] = IRInt(*e.UpgradeIndex)
	}
	if e.Kind == KindFeedback {
		obj["is_inverted"] = IRBool(e.IsInverted)
		if e.Style != nil {
			obj["style"] = e.Style
		}
	}
	return obj
}

// IntPtr returns a pointer to i. Convenience for UpgradeIndex literals.
func IntPtr(i int) *int {
	return &i
}
