package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entsync/internal/ir"
)

func TestStore_PutAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "entities.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))
	require.NoError(t, s.Put(ctx, "bank:2", testFeedback("f1", "atem")))
	require.NoError(t, s.Put(ctx, "bank:3", testAction("a2", "obs")))
	require.NoError(t, s.SetBitmapSize(ctx, "bank:2", ir.ImageSize{Width: 72, Height: 58}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got := s.EntitiesForConnection("atem")
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].Entity.ID, "insertion order survives reopen")
	assert.Equal(t, "bank:1", got[0].ControlID)
	assert.Equal(t, testAction("a1", "atem"), got[0].Entity)
	assert.Equal(t, testFeedback("f1", "atem"), got[1].Entity)

	size, ok := s.BitmapSize("bank:2")
	require.True(t, ok)
	assert.Equal(t, ir.ImageSize{Width: 72, Height: 58}, size)
	_, ok = s.BitmapSize("bank:9")
	assert.False(t, ok)
}

func TestStore_PutOverwriteKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))
	require.NoError(t, s.Put(ctx, "bank:1", testAction("a2", "atem")))

	changed := testAction("a1", "atem")
	changed.Options["me"] = ir.IRInt(2)
	require.NoError(t, s.Put(ctx, "bank:5", changed))

	got := s.EntitiesForConnection("atem")
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].Entity.ID)
	assert.Equal(t, "bank:5", got[0].ControlID)
	assert.Equal(t, ir.IRInt(2), got[0].Entity.Options["me"])
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	assert.Error(t, s.Put(ctx, "bank:1", ir.Entity{Kind: ir.KindAction}))
	assert.Error(t, s.Put(ctx, "bank:1", ir.Entity{ID: "x"}))

	bad := testAction("a1", "atem")
	bad.Options["v"] = ir.IRFloat(nanValue())
	assert.Error(t, s.Put(ctx, "bank:1", bad))
	_, ok := s.Entity("a1")
	assert.False(t, ok, "failed write leaves no cache entry")
}

func TestStore_Replace(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, "bank:1", testFeedback("f1", "atem")))

	upgraded := testFeedback("f1", "atem")
	upgraded.Options = ir.IRObject{"level": ir.IRFloat(0.75), "added": ir.IRBool(true)}
	upgraded.UpgradeIndex = ir.IntPtr(3)
	upgraded.ConnectionID = "ignored"
	require.NoError(t, s.Replace(ctx, upgraded))

	p, ok := s.Entity("f1")
	require.True(t, ok)
	assert.Equal(t, "bank:1", p.ControlID)
	assert.Equal(t, "atem", p.Entity.ConnectionID, "connection is not rewritten")
	assert.Equal(t, 3, *p.Entity.UpgradeIndex)
	assert.Equal(t, ir.IRBool(true), p.Entity.Options["added"])

	var row string
	require.NoError(t, s.db.QueryRow(`SELECT options FROM entities WHERE id = 'f1'`).Scan(&row))
	assert.Equal(t, `{"added":true,"level":0.75}`, row, "options stored as canonical JSON")
}

func TestStore_ReplaceErrors(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	err := s.Replace(ctx, testAction("missing", "atem"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))
	wrongKind := testFeedback("a1", "atem")
	assert.Error(t, s.Replace(ctx, wrongKind))
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))

	ref := s.Ref("a1")
	_, alive := ref.Load()
	require.True(t, alive)

	require.NoError(t, s.Remove(ctx, "a1"))
	_, alive = ref.Load()
	assert.False(t, alive, "reference does not keep the entity alive")
	assert.Equal(t, "a1", ref.ID())

	assert.ErrorIs(t, s.Remove(ctx, "a1"), ErrNotFound)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&count))
	assert.Zero(t, count)
}

func TestStore_RemoveControl(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))
	require.NoError(t, s.Put(ctx, "bank:2", testAction("a2", "atem")))
	require.NoError(t, s.Put(ctx, "bank:1", testFeedback("f1", "atem")))
	require.NoError(t, s.SetBitmapSize(ctx, "bank:1", ir.ImageSize{Width: 1, Height: 1}))

	var removed []string
	s.Subscribe(func(c Change) {
		if c.Type == ChangeRemove {
			removed = append(removed, c.EntityID)
		}
	})

	require.NoError(t, s.RemoveControl(ctx, "bank:1"))
	assert.Equal(t, []string{"a1", "f1"}, removed)
	assert.Len(t, s.EntitiesForConnection("atem"), 1)
	_, ok := s.BitmapSize("bank:1")
	assert.False(t, ok)
}

func TestStore_ObserversSeeCommittedState(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	var changes []Change
	s.Subscribe(func(c Change) {
		// Reads from inside the callback must not deadlock.
		_, ok := s.Entity(c.EntityID)
		if c.Type == ChangeRemove {
			assert.False(t, ok)
		} else if c.Type != ChangeBitmap {
			assert.True(t, ok)
		}
		changes = append(changes, c)
	})

	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))
	require.NoError(t, s.Replace(ctx, testAction("a1", "atem").WithUpgradeIndex(2)))
	require.NoError(t, s.SetBitmapSize(ctx, "bank:1", ir.ImageSize{Width: 72, Height: 58}))
	require.NoError(t, s.SetBitmapSize(ctx, "bank:1", ir.ImageSize{Width: 72, Height: 58}))
	require.NoError(t, s.Remove(ctx, "a1"))

	types := make([]ChangeType, 0, len(changes))
	for _, c := range changes {
		types = append(types, c.Type)
	}
	assert.Equal(t, []ChangeType{ChangePut, ChangeReplace, ChangeBitmap, ChangeRemove}, types,
		"unchanged bitmap size is silent")
	assert.Equal(t, Change{Type: ChangePut, EntityID: "a1", Kind: ir.KindAction, ConnectionID: "atem", ControlID: "bank:1"}, changes[0])
	assert.Equal(t, "bank:1", changes[3].ControlID)
}

func TestStore_EntityReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Put(ctx, "bank:1", testAction("a1", "atem")))

	p, _ := s.Entity("a1")
	p.Entity.Options["me"] = ir.IRInt(99)

	again, _ := s.Entity("a1")
	assert.Equal(t, ir.IRInt(1), again.Entity.Options["me"])
}

func TestChangeTypeString(t *testing.T) {
	assert.Equal(t, "put", ChangePut.String())
	assert.Equal(t, "bitmap", ChangeBitmap.String())
	assert.Equal(t, "change(9)", ChangeType(9).String())
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
