package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/entsync/internal/ir"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ChangeType classifies a store mutation.
type ChangeType int

const (
	ChangePut ChangeType = iota
	ChangeReplace
	ChangeRemove
	ChangeBitmap
)

func (c ChangeType) String() string {
	switch c {
	case ChangePut:
		return "put"
	case ChangeReplace:
		return "replace"
	case ChangeRemove:
		return "remove"
	case ChangeBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Change describes one committed mutation. Bitmap changes carry only
// ControlID.
type Change struct {
	Type         ChangeType
	EntityID     string
	Kind         ir.EntityKind
	ConnectionID string
	ControlID    string
}

// Observer is called synchronously after each committed mutation.
// Observers must not write to the store from within the callback.
type Observer func(Change)

// Placement is an entity together with the control it belongs to.
type Placement struct {
	Entity    ir.Entity
	ControlID string
}

type placement struct {
	entity    ir.Entity
	controlID string
	seq       int64
}

type bitmap struct {
	width, height int
}

// Subscribe registers an observer.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Store) notify(observers []Observer, c Change) {
	for _, o := range observers {
		o(c)
	}
}

// Put creates or overwrites an entity on a control.
func (s *Store) Put(ctx context.Context, controlID string, e ir.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("put entity: empty id")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("put entity %s: invalid kind", e.ID)
	}
	row, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("put entity %s: %w", e.ID, err)
	}

	s.mu.Lock()
	seq := s.nextSeq
	if existing, ok := s.entities[e.ID]; ok {
		seq = existing.seq
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities
		(id, kind, connection_id, definition_id, control_id, options, upgrade_index, is_inverted, style, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			connection_id = excluded.connection_id,
			definition_id = excluded.definition_id,
			control_id = excluded.control_id,
			options = excluded.options,
			upgrade_index = excluded.upgrade_index,
			is_inverted = excluded.is_inverted,
			style = excluded.style
	`,
		e.ID, e.Kind.String(), e.ConnectionID, e.DefinitionID, controlID,
		row.options, row.upgradeIndex, e.IsInverted, row.style, seq,
	)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("put entity %s: %w", e.ID, err)
	}
	if seq == s.nextSeq {
		s.nextSeq++
	}
	s.entities[e.ID] = &placement{entity: e.Clone(), controlID: controlID, seq: seq}
	observers := s.observers
	s.mu.Unlock()

	s.notify(observers, Change{Type: ChangePut, EntityID: e.ID, Kind: e.Kind, ConnectionID: e.ConnectionID, ControlID: controlID})
	return nil
}

// Replace overwrites an existing entity with its upgraded form. The
// control placement and identity are kept; the kind must not change.
func (s *Store) Replace(ctx context.Context, e ir.Entity) error {
	row, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("replace entity %s: %w", e.ID, err)
	}

	s.mu.Lock()
	existing, ok := s.entities[e.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("replace entity %s: %w", e.ID, ErrNotFound)
	}
	if existing.entity.Kind != e.Kind {
		s.mu.Unlock()
		return fmt.Errorf("replace entity %s: kind %s does not match stored %s", e.ID, e.Kind, existing.entity.Kind)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE entities
		SET definition_id = ?, options = ?, upgrade_index = ?, is_inverted = ?, style = ?
		WHERE id = ?
	`, e.DefinitionID, row.options, row.upgradeIndex, e.IsInverted, row.style, e.ID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("replace entity %s: %w", e.ID, err)
	}
	updated := e.Clone()
	updated.ConnectionID = existing.entity.ConnectionID
	existing.entity = updated
	controlID := existing.controlID
	observers := s.observers
	s.mu.Unlock()

	s.logger.Debug("entity replaced", "entity_id", e.ID, "upgrade_index", derefIndex(e.UpgradeIndex))
	s.notify(observers, Change{Type: ChangeReplace, EntityID: e.ID, Kind: e.Kind, ConnectionID: updated.ConnectionID, ControlID: controlID})
	return nil
}

// Remove deletes an entity. Removing an unknown id returns ErrNotFound.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	existing, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove entity %s: %w", id, ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("remove entity %s: %w", id, err)
	}
	delete(s.entities, id)
	observers := s.observers
	s.mu.Unlock()

	s.notify(observers, Change{
		Type:         ChangeRemove,
		EntityID:     id,
		Kind:         existing.entity.Kind,
		ConnectionID: existing.entity.ConnectionID,
		ControlID:    existing.controlID,
	})
	return nil
}

// RemoveControl deletes a control with all of its entities. Observers see
// one ChangeRemove per entity, in insertion order.
func (s *Store) RemoveControl(ctx context.Context, controlID string) error {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("remove control %s: %w", controlID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE control_id = ?`, controlID); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return fmt.Errorf("remove control %s: %w", controlID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM controls WHERE control_id = ?`, controlID); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return fmt.Errorf("remove control %s: %w", controlID, err)
	}
	if err := tx.Commit(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("remove control %s: %w", controlID, err)
	}

	var removed []*placement
	for id, p := range s.entities {
		if p.controlID == controlID {
			removed = append(removed, p)
			delete(s.entities, id)
		}
	}
	delete(s.bitmaps, controlID)
	observers := s.observers
	s.mu.Unlock()

	sortBySeq(removed)
	for _, p := range removed {
		s.notify(observers, Change{
			Type:         ChangeRemove,
			EntityID:     p.entity.ID,
			Kind:         p.entity.Kind,
			ConnectionID: p.entity.ConnectionID,
			ControlID:    controlID,
		})
	}
	return nil
}

// Entity returns a copy of an entity and the control it belongs to.
func (s *Store) Entity(id string) (Placement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entities[id]
	if !ok {
		return Placement{}, false
	}
	return Placement{Entity: p.entity.Clone(), ControlID: p.controlID}, true
}

// EntitiesForConnection returns every entity of a connection in insertion
// order.
func (s *Store) EntitiesForConnection(connectionID string) []Placement {
	s.mu.RLock()
	var matched []*placement
	for _, p := range s.entities {
		if p.entity.ConnectionID == connectionID {
			matched = append(matched, p)
		}
	}
	s.mu.RUnlock()

	sortBySeq(matched)
	out := make([]Placement, 0, len(matched))
	for _, p := range matched {
		out = append(out, Placement{Entity: p.entity.Clone(), ControlID: p.controlID})
	}
	return out
}

// SetBitmapSize records the render size of a control.
// Observers are only told when the size actually changed.
func (s *Store) SetBitmapSize(ctx context.Context, controlID string, size ir.ImageSize) error {
	s.mu.Lock()
	if old, ok := s.bitmaps[controlID]; ok && old.width == size.Width && old.height == size.Height {
		s.mu.Unlock()
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO controls (control_id, bitmap_width, bitmap_height)
		VALUES (?, ?, ?)
		ON CONFLICT(control_id) DO UPDATE SET
			bitmap_width = excluded.bitmap_width,
			bitmap_height = excluded.bitmap_height
	`, controlID, size.Width, size.Height)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set bitmap size %s: %w", controlID, err)
	}
	s.bitmaps[controlID] = bitmap{width: size.Width, height: size.Height}
	observers := s.observers
	s.mu.Unlock()

	s.notify(observers, Change{Type: ChangeBitmap, ControlID: controlID})
	return nil
}

// BitmapSize returns the render size of a control.
func (s *Store) BitmapSize(controlID string) (ir.ImageSize, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bitmaps[controlID]
	if !ok {
		return ir.ImageSize{}, false
	}
	return ir.ImageSize{Width: b.width, Height: b.height}, true
}

// Ref returns a non-owning reference to an entity. The reference does not
// keep the entity alive; Load reports false once it was removed.
func (s *Store) Ref(id string) *Ref {
	return &Ref{store: s, id: id}
}

// Ref is a non-owning entity reference.
type Ref struct {
	store *Store
	id    string
}

// ID returns the referenced entity id.
func (r *Ref) ID() string {
	return r.id
}

// Load returns a copy of the current entity, or false if it is gone.
func (r *Ref) Load() (ir.Entity, bool) {
	p, ok := r.store.Entity(r.id)
	return p.Entity, ok
}

type encodedEntity struct {
	options      string
	upgradeIndex sql.NullInt64
	style        sql.NullString
}

func encodeEntity(e ir.Entity) (encodedEntity, error) {
	var row encodedEntity
	var err error
	if row.options, err = marshalObject(e.Options); err != nil {
		return row, err
	}
	if e.UpgradeIndex != nil {
		row.upgradeIndex = sql.NullInt64{Int64: int64(*e.UpgradeIndex), Valid: true}
	}
	if e.Style != nil {
		style, err := marshalObject(e.Style)
		if err != nil {
			return row, err
		}
		row.style = sql.NullString{String: style, Valid: true}
	}
	return row, nil
}

func (s *Store) loadCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, connection_id, definition_id, control_id, options, upgrade_index, is_inverted, style, seq
		FROM entities
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanEntity(rows)
		if err != nil {
			return err
		}
		s.entities[p.entity.ID] = p
		if p.seq >= s.nextSeq {
			s.nextSeq = p.seq + 1
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}

	brows, err := s.db.QueryContext(ctx, `SELECT control_id, bitmap_width, bitmap_height FROM controls`)
	if err != nil {
		return fmt.Errorf("query controls: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var id string
		var b bitmap
		if err := brows.Scan(&id, &b.width, &b.height); err != nil {
			return fmt.Errorf("scan control: %w", err)
		}
		s.bitmaps[id] = b
	}
	if err := brows.Err(); err != nil {
		return fmt.Errorf("iterate controls: %w", err)
	}
	return nil
}

func scanEntity(rows *sql.Rows) (*placement, error) {
	var (
		p             placement
		kind, options string
		upgradeIndex  sql.NullInt64
		style         sql.NullString
	)
	err := rows.Scan(
		&p.entity.ID, &kind, &p.entity.ConnectionID, &p.entity.DefinitionID, &p.controlID,
		&options, &upgradeIndex, &p.entity.IsInverted, &style, &p.seq,
	)
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	if p.entity.Kind, err = ir.ParseEntityKind(kind); err != nil {
		return nil, fmt.Errorf("entity %s: %w", p.entity.ID, err)
	}
	if p.entity.Options, err = unmarshalObject(options); err != nil {
		return nil, fmt.Errorf("entity %s: %w", p.entity.ID, err)
	}
	if upgradeIndex.Valid {
		p.entity.UpgradeIndex = ir.IntPtr(int(upgradeIndex.Int64))
	}
	if style.Valid {
		if p.entity.Style, err = unmarshalObject(style.String); err != nil {
			return nil, fmt.Errorf("entity %s: %w", p.entity.ID, err)
		}
	}
	return &p, nil
}

func sortBySeq(ps []*placement) {
	slices.SortFunc(ps, func(a, b *placement) int {
		return cmp.Compare(a.seq, b.seq)
	})
}

func derefIndex(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
