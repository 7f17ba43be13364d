package engine

import (
	"context"

	"github.com/roach88/entsync/internal/ir"
	"github.com/roach88/entsync/internal/variables"
)

// HostAdapter is the engine's only way to talk to a host process.
//
// Each method may take arbitrarily long. The engine never calls them on the
// Run loop; results come back as events. Update batches carry deletion
// markers (nil payload). Upgrade calls return the entities the host changed;
// an entity missing from the result is treated as already current.
type HostAdapter interface {
	UpdateActions(ctx context.Context, batch []ir.ActionUpdate) error
	UpdateFeedbacks(ctx context.Context, batch []ir.FeedbackUpdate) error
	UpgradeActions(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error)
	UpgradeFeedbacks(ctx context.Context, batch []ir.Entity, currentUpgradeIndex int) ([]ir.Entity, error)
}

// EntityRef is a non-owning handle to an entity. The engine never keeps an
// entity alive: when Load reports false the entity was deleted and the
// record is treated as forgotten.
type EntityRef interface {
	ID() string
	Load() (ir.Entity, bool)
}

// EntityStore is the authoritative entity collection.
type EntityStore interface {
	// Replace commits an upgraded entity. Implementations notify the owning
	// control, which re-tracks the entity so the host receives the new
	// options.
	Replace(ctx context.Context, e ir.Entity) error

	// BitmapSize returns the render size of a control, if it has one.
	BitmapSize(controlID string) (ir.ImageSize, bool)
}

// Definitions looks up entity definitions of the connection.
type Definitions interface {
	Definition(kind ir.EntityKind, id string) (*ir.Definition, bool)
}

// OptionResolver resolves variable references in option text.
// *variables.Parser implements it.
type OptionResolver interface {
	Resolve(text string, ctx variables.ParseContext) variables.Result
	Evaluate(expression string, ctx variables.ParseContext) (ir.IRValue, []string, error)
}

// ErrorReporter receives errors the hub should surface to the operator.
type ErrorReporter func(err error)
