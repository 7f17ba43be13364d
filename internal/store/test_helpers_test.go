package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/entsync/internal/ir"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAction(id, connectionID string) ir.Entity {
	return ir.Entity{
		ID:           id,
		Kind:         ir.KindAction,
		ConnectionID: connectionID,
		DefinitionID: "cut",
		Options:      ir.IRObject{"me": ir.IRInt(1), "text": ir.IRString("$(internal:x)")},
	}
}

func testFeedback(id, connectionID string) ir.Entity {
	return ir.Entity{
		ID:           id,
		Kind:         ir.KindFeedback,
		ConnectionID: connectionID,
		DefinitionID: "tally",
		Options:      ir.IRObject{"level": ir.IRFloat(0.5)},
		IsInverted:   true,
		Style:        ir.IRObject{"color": ir.IRInt(16711680)},
		UpgradeIndex: ir.IntPtr(1),
	}
}
